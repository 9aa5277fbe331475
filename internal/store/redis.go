package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists each room as a JSON value under prefix+roomID.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects using a redis:// or rediss:// URL and verifies connectivity.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, roomID string) (State, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+roomID).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get %s: %w", roomID, err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return st, nil
}

func (s *RedisStore) Put(ctx context.Context, roomID string, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+roomID, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", roomID, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
