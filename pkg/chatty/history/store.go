// Package history persists a message audit log in SQLite: inbound
// commands, their replies and the fanned-out notifications. It is a
// log, not a delivery queue; nothing is ever replayed from it.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	direction  TEXT NOT NULL,
	address    TEXT NOT NULL,
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
`

// Entry is one logged message.
type Entry struct {
	ID        string
	CreatedAt time.Time

	// Direction is "in" or "out".
	Direction string

	// Address is the remote JID.
	Address string

	Body string
}

// Store is the SQLite-backed message log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the log database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3",
		fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: creating schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Append logs one message.
func (s *Store) Append(direction, address, body string) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, created_at, direction, address, body) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), time.Now().UTC(), direction, address, body)
	if err != nil {
		return fmt.Errorf("history: inserting message: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, direction, address, body
		 FROM messages ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Direction, &e.Address, &e.Body); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
