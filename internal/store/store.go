package store

import (
	"context"
	"errors"
)

// Defaults a room gets the first time it is referenced.
const (
	DefaultCode     = `print("Hello World")`
	DefaultLanguage = "python"
)

// ErrNotFound is returned by Get when no record exists for a room.
var ErrNotFound = errors.New("room state not found")

// State is the persisted record for one room.
type State struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// DefaultState returns the state a never-seen room starts with.
func DefaultState() State {
	return State{Code: DefaultCode, Language: DefaultLanguage}
}

// Store is a durable get/put of room state keyed by room id.
type Store interface {
	Get(ctx context.Context, roomID string) (State, error)
	Put(ctx context.Context, roomID string, st State) error
	Close() error
}
