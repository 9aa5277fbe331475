package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/manpreetbhatti/coderelay/backend/internal/store"
	_ "modernc.org/sqlite"
)

// Database is a SQLite-backed room state store.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string
	Code      string
	Language  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var _ store.Store = (*Database)(nil)

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_state (
		room_id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		language TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_room_state_updated_at ON room_state(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Get implements store.Store.
func (d *Database) Get(ctx context.Context, roomID string) (store.State, error) {
	var st store.State
	err := d.db.QueryRowContext(ctx,
		"SELECT code, language FROM room_state WHERE room_id = ?",
		roomID,
	).Scan(&st.Code, &st.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return store.State{}, store.ErrNotFound
	}
	if err != nil {
		return store.State{}, fmt.Errorf("select room %s: %w", roomID, err)
	}
	return st, nil
}

// Put implements store.Store. The whole record is overwritten.
func (d *Database) Put(ctx context.Context, roomID string, st store.State) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO room_state (room_id, code, language, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			code = excluded.code,
			language = excluded.language,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, st.Code, st.Language)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", roomID, err)
	}
	return nil
}

func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT room_id, code, language, created_at, updated_at FROM room_state ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Code, &room.Language, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_state").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	return stats, nil
}
