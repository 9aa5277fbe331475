package session

import (
	"context"

	"github.com/manpreetbhatti/coderelay/backend/internal/metrics"
	"github.com/manpreetbhatti/coderelay/backend/internal/protocol"
	"github.com/manpreetbhatti/coderelay/backend/internal/ws"
)

// HandleEvent routes one inbound frame. Invalid payloads are logged and dropped.
func (s *Coordinator) HandleEvent(ctx context.Context, c *ws.Client, env protocol.Envelope) {
	var err error

	switch env.Event {
	case protocol.EventJoinRoom:
		var roomID string
		if roomID, err = protocol.ParseJoin(env.Data); err == nil {
			s.Join(ctx, c, roomID)
		}

	case protocol.EventCodeUpdate:
		var p protocol.CodeUpdate
		if p, err = protocol.ParseCodeUpdate(env.Data); err == nil {
			s.UpdateCode(ctx, c, p.RoomID, p.Code)
		}

	case protocol.EventLanguageChange:
		var p protocol.LanguageChange
		if p, err = protocol.ParseLanguageChange(env.Data); err == nil {
			s.ChangeLanguage(ctx, c, p.RoomID, p.Language)
		}

	case protocol.EventRunCode:
		var p protocol.RunCode
		if p, err = protocol.ParseRunCode(env.Data); err == nil {
			s.runner.Submit(ctx, c, p)
		}

	default:
		err = protocol.ErrUnknownEvent
	}

	if err != nil {
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		s.log.Warn("event.invalid", "client", c.ID(), "event", env.Event, "err", err)
	}
}
