package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/manpreetbhatti/coderelay/backend/internal/db"
	"github.com/manpreetbhatti/coderelay/backend/internal/store"
)

// OpenStore picks the room state backend from the STORE_URL scheme
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	u, err := url.Parse(cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()

		st, err := store.NewRedisStore(ctx, cfg.StoreURL, cfg.StoreKeyPrefix)
		if err != nil {
			return nil, err
		}
		logger.Info("store.opened", "kind", "redis", "addr", u.Host, "prefix", cfg.StoreKeyPrefix)
		return st, nil

	case "sqlite":
		path := strings.TrimPrefix(cfg.StoreURL, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite store url needs a path")
		}
		database, err := db.New(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		logger.Info("store.opened", "kind", "sqlite", "path", path)
		return database, nil

	case "memory":
		logger.Warn("store.opened", "kind", "memory", "note", "state is lost on restart")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}
