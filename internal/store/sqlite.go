// ABOUTME: SQLite implementation of the admin surface stores using modernc.org/sqlite
// ABOUTME: Provides token, user and room persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements TokenStore, UserStore and RoomStore on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ TokenStore = (*SQLiteStore)(nil)
	_ UserStore  = (*SQLiteStore)(nil)
	_ RoomStore  = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS admin_tokens (
			token TEXT PRIMARY KEY,
			creator TEXT NOT NULL,
			description TEXT NOT NULL,
			valid_until DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS admin_token_permissions (
			token TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			action TEXT NOT NULL,
			allowed INTEGER NOT NULL,
			PRIMARY KEY (token, endpoint, action),
			FOREIGN KEY (token) REFERENCES admin_tokens(token) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			display_name TEXT,
			admin INTEGER NOT NULL DEFAULT 0,
			deactivated INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS user_ips (
			user_id TEXT NOT NULL,
			ip TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			last_seen DATETIME NOT NULL,
			PRIMARY KEY (user_id, ip, user_agent)
		);

		CREATE TABLE IF NOT EXISTS room_events (
			event_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			type TEXT NOT NULL,
			state_key TEXT,
			prev_event_ids TEXT NOT NULL,
			stream_ordering INTEGER NOT NULL,
			content TEXT NOT NULL,
			unsigned TEXT,
			rejected INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_room_events_room_stream
			ON room_events(room_id, stream_ordering);

		CREATE TABLE IF NOT EXISTS event_state (
			event_id TEXT NOT NULL,
			state_event_id TEXT NOT NULL,
			PRIMARY KEY (event_id, state_event_id)
		);

		CREATE TABLE IF NOT EXISTS room_memberships (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			membership TEXT NOT NULL,
			event_id TEXT NOT NULL,
			stream_ordering INTEGER NOT NULL,
			PRIMARY KEY (user_id, room_id, stream_ordering)
		);

		CREATE INDEX IF NOT EXISTS idx_room_memberships_user
			ON room_memberships(user_id);

		CREATE TABLE IF NOT EXISTS room_forgotten (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			PRIMARY KEY (user_id, room_id)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
