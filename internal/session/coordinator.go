package session

import (
	"context"
	"log/slog"

	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
	"github.com/manpreetbhatti/coderelay/backend/internal/room"
	"github.com/manpreetbhatti/coderelay/backend/internal/store"
	"github.com/manpreetbhatti/coderelay/backend/internal/ws"
)

// Hub is the part of ws.Hub the coordinator drives
type Hub interface {
	Join(c *ws.Client, roomID string)
	BroadcastExcept(roomID string, sender *ws.Client, event string, payload any)
	SendTo(c *ws.Client, event string, payload any)
}

// Runner hands run-code requests to the execution relay
type Runner interface {
	Submit(ctx context.Context, c *ws.Client, req protocol.RunCode)
}

// Coordinator applies room events and fans the results out to members
type Coordinator struct {
	rooms  *room.Registry
	hub    Hub
	runner Runner
	log    *slog.Logger
}

var _ ws.Handler = (*Coordinator)(nil)

func NewCoordinator(rooms *room.Registry, hub Hub, runner Runner, logger *slog.Logger) *Coordinator {
	return &Coordinator{rooms: rooms, hub: hub, runner: runner, log: logger}
}

// Join adds c to the room and sends it the current code and language, in that
// order. Holding the room lock keeps concurrent updates from slipping between
// the snapshot and the membership.
func (s *Coordinator) Join(ctx context.Context, c *ws.Client, roomID string) {
	if !c.BindRoom(roomID) {
		s.log.Warn("join.repeated", "client", c.ID(), "room", roomID, "current", c.RoomID())
		return
	}

	s.rooms.View(ctx, roomID, func(st store.State) {
		s.hub.Join(c, roomID)
		s.hub.SendTo(c, protocol.EventCodeUpdate, st.Code)
		s.hub.SendTo(c, protocol.EventLanguageUpdate, st.Language)
	})
}

// UpdateCode replaces the room's code and relays it to everyone but the sender.
// Rooms not yet loaded are ignored.
func (s *Coordinator) UpdateCode(ctx context.Context, sender *ws.Client, roomID, code string) {
	ok := s.rooms.Mutate(ctx, roomID,
		func(st *store.State) { st.Code = code },
		func(st store.State) { s.hub.BroadcastExcept(roomID, sender, protocol.EventCodeUpdate, st.Code) },
	)
	if !ok {
		s.log.Debug("code.update.unknown_room", "client", sender.ID(), "room", roomID)
	}
}

// ChangeLanguage is UpdateCode for the language field. Repeats are not collapsed.
func (s *Coordinator) ChangeLanguage(ctx context.Context, sender *ws.Client, roomID, language string) {
	ok := s.rooms.Mutate(ctx, roomID,
		func(st *store.State) { st.Language = language },
		func(st store.State) { s.hub.BroadcastExcept(roomID, sender, protocol.EventLanguageUpdate, st.Language) },
	)
	if !ok {
		s.log.Debug("language.update.unknown_room", "client", sender.ID(), "room", roomID)
	}
}
