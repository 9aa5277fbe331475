package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manpreetbhatti/coderelay/backend/internal/db"
	"github.com/manpreetbhatti/coderelay/backend/internal/executor"
	"github.com/manpreetbhatti/coderelay/backend/internal/room"
	"github.com/manpreetbhatti/coderelay/backend/internal/store"
	"github.com/manpreetbhatti/coderelay/backend/internal/ws"
)

func newTestAPI(t *testing.T, st store.Store) (*API, *ws.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})

	rooms := room.NewRegistry(st, logger, time.Second)
	relay := executor.NewRelay(executor.NewClient("http://127.0.0.1:1", time.Second), rooms, hub, 1, time.Second, logger)

	return New(hub, rooms, st, relay, logger), hub
}

func setupTestAPI(t *testing.T) (*API, *db.Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "coderelay-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	api, _ := newTestAPI(t, database)

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return api, database, cleanup
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestHealthHandler(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	api.rooms.Ensure(context.Background(), "cached")

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	for _, key := range []string{"active_rooms", "active_clients", "executions_in_flight"} {
		if _, ok := response[key]; !ok {
			t.Errorf("Response should contain '%s'", key)
		}
	}
	if response["cached_rooms"] != float64(1) {
		t.Errorf("Expected 1 cached room, got %v", response["cached_rooms"])
	}
	if response["total_rooms"] != float64(1) {
		t.Errorf("Expected 1 stored room, got %v", response["total_rooms"])
	}
}

func TestStatsWithoutListingStore(t *testing.T) {
	api, _ := newTestAPI(t, store.NewMemoryStore())

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	response := decode(t, w)
	if _, ok := response["total_rooms"]; ok {
		t.Error("Memory store should not report total_rooms")
	}
}

func TestGetRoom(t *testing.T) {
	api, database, cleanup := setupTestAPI(t)
	defer cleanup()

	roomID := "get-test-room"
	database.Put(context.Background(), roomID, store.State{Code: "int main() {}", Language: "cpp"})

	req := httptest.NewRequest("GET", "/api/rooms/"+roomID, nil)
	w := httptest.NewRecorder()

	api.GetRoomHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["id"] != roomID {
		t.Errorf("Expected room ID '%s', got '%v'", roomID, response["id"])
	}
	if response["code"] != "int main() {}" || response["language"] != "cpp" {
		t.Errorf("Unexpected room state: %v", response)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/rooms/non-existent", nil)
	w := httptest.NewRecorder()

	api.GetRoomHandler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListRoomsActive(t *testing.T) {
	api, hub := newTestAPI(t, store.NewMemoryStore())

	for _, roomID := range []string{"b-room", "a-room", "a-room"} {
		c := ws.NewClient(hub)
		hub.Register(c)
		hub.Join(c, roomID)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		active := hub.GetActiveRooms()
		if active["a-room"] == 2 && active["b-room"] == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/rooms", nil)
	w := httptest.NewRecorder()

	api.ListRoomsHandler(w, req)

	response := decode(t, w)
	rooms, ok := response["rooms"].([]any)
	if !ok {
		t.Fatal("Response should contain 'rooms' array")
	}
	if len(rooms) != 2 {
		t.Fatalf("Expected 2 active rooms, got %d", len(rooms))
	}

	first := rooms[0].(map[string]any)
	if first["id"] != "a-room" || first["active_users"] != float64(2) {
		t.Errorf("Unexpected first room: %v", first)
	}
	if _, ok := response["recent"]; ok {
		t.Error("Memory store should not list recent rooms")
	}
}

func TestListRoomsPagination(t *testing.T) {
	api, database, cleanup := setupTestAPI(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		database.Put(context.Background(), "page-room-"+string(rune('a'+i)), store.DefaultState())
	}

	req := httptest.NewRequest("GET", "/api/rooms?limit=3", nil)
	w := httptest.NewRecorder()

	api.ListRoomsHandler(w, req)

	response := decode(t, w)
	recent := response["recent"].([]any)
	if len(recent) != 3 {
		t.Errorf("Expected 3 rooms with limit, got %d", len(recent))
	}

	req = httptest.NewRequest("GET", "/api/rooms?limit=3&offset=8", nil)
	w = httptest.NewRecorder()

	api.ListRoomsHandler(w, req)

	response = decode(t, w)
	recent = response["recent"].([]any)
	if len(recent) != 2 {
		t.Errorf("Expected 2 rooms with offset, got %d", len(recent))
	}
}

func TestRoomsRouter(t *testing.T) {
	api, database, cleanup := setupTestAPI(t)
	defer cleanup()

	database.Put(context.Background(), "router-room", store.DefaultState())

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{
			name:           "GET /api/rooms - list",
			method:         "GET",
			path:           "/api/rooms",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "GET /api/rooms/ - list",
			method:         "GET",
			path:           "/api/rooms/",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "GET /api/rooms/{id} - get",
			method:         "GET",
			path:           "/api/rooms/router-room",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "GET /api/rooms/{id} - missing",
			method:         "GET",
			path:           "/api/rooms/nope",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "POST /api/rooms - not allowed",
			method:         "POST",
			path:           "/api/rooms",
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE /api/rooms/{id} - not allowed",
			method:         "DELETE",
			path:           "/api/rooms/router-room",
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			api.RoomsRouter(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}
