package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/coderelay/backend/internal/db"
	"github.com/manpreetbhatti/coderelay/backend/internal/executor"
	"github.com/manpreetbhatti/coderelay/backend/internal/room"
	"github.com/manpreetbhatti/coderelay/backend/internal/store"
	"github.com/manpreetbhatti/coderelay/backend/internal/ws"
)

// Implemented by stores that can enumerate what they hold (the SQLite store)
type roomLister interface {
	ListRooms(ctx context.Context, limit, offset int) ([]db.Room, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

type API struct {
	hub   *ws.Hub
	rooms *room.Registry
	store store.Store
	relay *executor.Relay
	log   *slog.Logger
}

func New(hub *ws.Hub, rooms *room.Registry, st store.Store, relay *executor.Relay, logger *slog.Logger) *API {
	return &API{
		hub:   hub,
		rooms: rooms,
		store: st,
		relay: relay,
		log:   logger,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error("api.encode", "err", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := map[string]interface{}{
		"active_rooms":         a.hub.GetRoomCount(),
		"active_clients":       a.hub.GetClientCount(),
		"cached_rooms":         a.rooms.Len(),
		"executions_in_flight": a.relay.InFlight(),
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	}

	if lister, ok := a.store.(roomLister); ok {
		dbStats, err := lister.GetStats(r.Context())
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
		} else {
			a.log.Warn("api.stats.store", "err", err)
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string     `json:"id"`
	Code        string     `json:"code,omitempty"`
	Language    string     `json:"language,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	ActiveUsers int        `json:"active_users"`
}

// ListRoomsHandler lists rooms with connected members. Stores that can
// enumerate their rooms also contribute the most recently edited ones.
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	activeRooms := a.hub.GetActiveRooms()

	active := make([]RoomResponse, 0, len(activeRooms))
	for id, users := range activeRooms {
		active = append(active, RoomResponse{ID: id, ActiveUsers: users})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	response := map[string]interface{}{
		"rooms": active,
	}

	if lister, ok := a.store.(roomLister); ok {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset < 0 {
			offset = 0
		}

		stored, err := lister.ListRooms(r.Context(), limit, offset)
		if err != nil {
			a.log.Error("api.rooms.list", "err", err)
			a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
			return
		}

		recent := make([]RoomResponse, len(stored))
		for i, rm := range stored {
			updated := rm.UpdatedAt
			recent[i] = RoomResponse{
				ID:          rm.ID,
				Language:    rm.Language,
				UpdatedAt:   &updated,
				ActiveUsers: activeRooms[rm.ID],
			}
		}
		response["recent"] = recent
		response["limit"] = limit
		response["offset"] = offset
	}

	a.jsonResponse(w, http.StatusOK, response)
}

// GetRoomHandler returns the persisted state of one room
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	// Extract room ID from path: /api/rooms/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	roomID := strings.TrimSuffix(path, "/")

	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	st, err := a.store.Get(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		a.log.Error("api.rooms.get", "room", roomID, "err", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	a.jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          roomID,
		Code:        st.Code,
		Language:    st.Language,
		ActiveUsers: a.hub.GetActiveRooms()[roomID],
	})
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}
	a.GetRoomHandler(w, r)
}
