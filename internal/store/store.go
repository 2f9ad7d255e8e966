// Package store persists per-conversation sync state in SQLite so catch-up
// boundaries survive process restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"slackbridge/internal/domain"
)

// SQLiteStore implements domain.MetadataStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id            TEXT PRIMARY KEY,
		name          TEXT,
		last_sync_ts  TEXT,
		updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// LastSyncTimestamp returns the stored boundary for a conversation, or ""
// when the conversation has never been synced.
func (s *SQLiteStore) LastSyncTimestamp(ctx context.Context, conversationID string) (string, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_ts FROM conversations WHERE id = ?`, conversationID,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cannot read sync state for %s: %w", conversationID, err)
	}
	return ts.String, nil
}

func (s *SQLiteStore) SetLastSyncTimestamp(ctx context.Context, conversationID, ts string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, last_sync_ts, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET last_sync_ts = excluded.last_sync_ts, updated_at = CURRENT_TIMESTAMP`,
		conversationID, ts,
	)
	if err != nil {
		return fmt.Errorf("cannot persist sync state for %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateConversationName(ctx context.Context, conversationID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, name, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP`,
		conversationID, name,
	)
	if err != nil {
		return fmt.Errorf("cannot persist name for %s: %w", conversationID, err)
	}
	return nil
}

// Conversations lists every conversation with recorded state.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]domain.ConversationSync, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(last_sync_ts, '') FROM conversations ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationSync
	for rows.Next() {
		var cs domain.ConversationSync
		if err := rows.Scan(&cs.ID, &cs.LastTimestamp); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
