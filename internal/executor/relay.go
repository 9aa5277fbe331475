package executor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/manpreetbhatti/coderelay/backend/internal/metrics"
	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
	"github.com/manpreetbhatti/coderelay/backend/internal/room"
	"github.com/manpreetbhatti/coderelay/backend/internal/ws"
)

// FailureMessage is what the requester sees when no result could be obtained
const FailureMessage = "Failed to connect to Execution Service."

type Executor interface {
	Execute(ctx context.Context, req Request) (protocol.ExecutionResult, error)
}

// Sender delivers a frame to exactly one connection
type Sender interface {
	SendTo(c *ws.Client, event string, payload any)
}

// RoomLookup finds rooms already loaded by the registry
type RoomLookup interface {
	Lookup(roomID string) (*room.Room, bool)
}

// Relay forwards run requests to the executor and routes each result back to
// the connection that asked for it.
type Relay struct {
	exec     Executor
	rooms    RoomLookup
	hub      Sender
	sem      *semaphore.Weighted
	timeout  time.Duration
	log      *slog.Logger
	inFlight atomic.Int64
}

func NewRelay(exec Executor, rooms RoomLookup, hub Sender, maxConcurrent int, timeout time.Duration, logger *slog.Logger) *Relay {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Relay{
		exec:    exec,
		rooms:   rooms,
		hub:     hub,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		log:     logger,
	}
}

func failure() protocol.ExecutionResult {
	output, msg := "", FailureMessage
	return protocol.ExecutionResult{Output: &output, Error: &msg}
}

// Submit runs the request in the background and returns immediately
func (r *Relay) Submit(ctx context.Context, client *ws.Client, req protocol.RunCode) {
	go r.Run(ctx, client, req)
}

// Run executes one request and unicasts the outcome to client. Every request
// gets exactly one reply; a language outside the supported set gets the failure result.
func (r *Relay) Run(ctx context.Context, client *ws.Client, req protocol.RunCode) {
	language := r.language(req)
	log := r.log.With("client", client.ID(), "room", req.RoomID, "language", language)

	if !protocol.SupportedLanguages[language] {
		metrics.EventsDropped.WithLabelValues("unsupported_language").Inc()
		log.Warn("exec.language.unsupported")
		r.hub.SendTo(client, protocol.EventExecutionResult, failure())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		metrics.Executions.WithLabelValues("saturated").Inc()
		log.Warn("exec.saturated", "err", err)
		r.hub.SendTo(client, protocol.EventExecutionResult, failure())
		return
	}
	defer r.sem.Release(1)

	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	start := time.Now()
	result, err := r.exec.Execute(ctx, Request{Language: language, Code: req.Code})
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.Executions.WithLabelValues("failed").Inc()
		log.Warn("exec.failed", "err", err)
		r.hub.SendTo(client, protocol.EventExecutionResult, failure())
		return
	}

	metrics.Executions.WithLabelValues("ok").Inc()
	log.Info("exec.completed", "elapsed", time.Since(start))
	r.hub.SendTo(client, protocol.EventExecutionResult, result)
}

// The server's copy of the room language wins over what the client sent
func (r *Relay) language(req protocol.RunCode) string {
	if rm, ok := r.rooms.Lookup(req.RoomID); ok {
		return rm.Snapshot().Language
	}
	return req.Language
}

// InFlight reports requests currently waiting on the executor
func (r *Relay) InFlight() int64 {
	return r.inFlight.Load()
}
