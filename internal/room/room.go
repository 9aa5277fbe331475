package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/manpreetbhatti/coderelay/backend/internal/metrics"
	"github.com/manpreetbhatti/coderelay/backend/internal/store"
)

// A collaborative editing session
type Room struct {
	ID    string
	mu    sync.Mutex
	state store.State
}

// Returns a copy of the current state
func (r *Room) Snapshot() store.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Registry caches rooms in memory and writes every change through to the store.
// Mutations on one room are serialized by that room's mutex.
type Registry struct {
	store   store.Store
	log     *slog.Logger
	timeout time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room
	load  singleflight.Group
}

func NewRegistry(st store.Store, logger *slog.Logger, timeout time.Duration) *Registry {
	return &Registry{
		store:   st,
		log:     logger,
		timeout: timeout,
		rooms:   make(map[string]*Room),
	}
}

// Lookup returns a cached room without touching the store
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rm, ok := g.rooms[roomID]
	return rm, ok
}

// Ensure returns the room, loading it from the store or creating it with defaults.
// Concurrent first access for the same id shares a single load.
func (g *Registry) Ensure(ctx context.Context, roomID string) *Room {
	if rm, ok := g.Lookup(roomID); ok {
		return rm
	}

	v, _, _ := g.load.Do(roomID, func() (any, error) {
		if rm, ok := g.Lookup(roomID); ok {
			return rm, nil
		}

		rm := &Room{ID: roomID, state: g.fetch(ctx, roomID)}

		g.mu.Lock()
		g.rooms[roomID] = rm
		g.mu.Unlock()
		return rm, nil
	})
	return v.(*Room)
}

// fetch never fails: an unreachable store degrades to defaults.
func (g *Registry) fetch(ctx context.Context, roomID string) store.State {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	st, err := g.store.Get(ctx, roomID)
	switch {
	case err == nil:
		g.log.Debug("room.loaded", "room", roomID)
		return st
	case errors.Is(err, store.ErrNotFound):
		st = store.DefaultState()
		if err := g.store.Put(ctx, roomID, st); err != nil {
			metrics.StoreErrors.WithLabelValues("put").Inc()
			g.log.Warn("store.put.failed", "room", roomID, "err", err)
		}
		g.log.Info("room.created", "room", roomID)
		return st
	default:
		metrics.StoreErrors.WithLabelValues("get").Inc()
		g.log.Warn("store.get.failed", "room", roomID, "err", err)
		return store.DefaultState()
	}
}

// Mutate applies a change to a known room, persists it and hands the new state to
// publish while the room is still locked, so publishes follow apply order.
// Unknown rooms are left alone and Mutate reports false.
func (g *Registry) Mutate(ctx context.Context, roomID string, mutate func(*store.State), publish func(store.State)) bool {
	rm, ok := g.Lookup(roomID)
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	next := rm.state
	mutate(&next)
	g.persist(ctx, roomID, next)
	rm.state = next

	if publish != nil {
		publish(next)
	}
	return true
}

// View ensures the room exists and runs fn with its state under the room lock
func (g *Registry) View(ctx context.Context, roomID string, fn func(store.State)) {
	rm := g.Ensure(ctx, roomID)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	fn(rm.state)
}

// Len returns the number of cached rooms
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// A failed write keeps the in-memory state; durability is best effort.
func (g *Registry) persist(ctx context.Context, roomID string, st store.State) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	if err := g.store.Put(ctx, roomID, st); err != nil {
		metrics.StoreErrors.WithLabelValues("put").Inc()
		g.log.Warn("store.put.failed", "room", roomID, "err", err)
	}
}
