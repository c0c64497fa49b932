// Package history persists the commands each user has dispatched and
// records new ones off the request path.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPageSize caps how many entries List returns.
const DefaultPageSize = 50

// Entry is one recorded command. Timestamp is epoch milliseconds.
type Entry struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Query     string `json:"query"`
	API       string `json:"api"`
	Timestamp int64  `json:"timestamp"`
}

// Store persists history entries in SQLite.
type Store struct {
	db       *sql.DB
	pageSize int
}

// NewStore creates a history store, running migrations on first use.
// A non-positive pageSize selects DefaultPageSize.
func NewStore(db *sql.DB, pageSize int) (*Store, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	s := &Store{db: db, pageSize: pageSize}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate search history: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS search_history (
			id        TEXT PRIMARY KEY,
			user_id   TEXT NOT NULL,
			query     TEXT NOT NULL,
			api       TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_search_history_user_ts
			ON search_history (user_id, timestamp DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Add stores a new entry and returns it. IDs are UUIDv7, so they sort
// by creation time and carry a random suffix.
func (s *Store) Add(ctx context.Context, userID, query, api string, ts time.Time) (Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("generate history id: %w", err)
	}

	e := Entry{
		ID:        id.String(),
		UserID:    userID,
		Query:     query,
		API:       api,
		Timestamp: ts.UnixMilli(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_history (id, user_id, query, api, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Query, e.API, e.Timestamp,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return e, nil
}

// List returns userID's entries newest first, capped at the page size.
// The result is never nil.
func (s *Store) List(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, query, api, timestamp
		FROM search_history
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		userID, s.pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &e.API, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes one entry owned by userID. It reports false, not an
// error, when the entry does not exist or belongs to someone else.
func (s *Store) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM search_history WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete history entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes every entry owned by userID and reports whether any
// existed.
func (s *Store) Clear(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
