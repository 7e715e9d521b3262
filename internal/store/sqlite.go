package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/evowork/evochat/internal/domain"
	"github.com/evowork/evochat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_last_updated ON threads(last_updated);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT,
		think_content TEXT,
		reply_content TEXT,
		think_duration INTEGER,
		tool_calls_json TEXT,
		timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateThread creates a conversation container with the given title.
func (s *SQLiteStore) CreateThread(ctx context.Context, title string) (*domain.Thread, error) {
	now := time.Now()
	thread := &domain.Thread{
		ID:          uuid.NewString(),
		Title:       title,
		LastUpdated: now,
		CreatedAt:   now,
	}

	query := `INSERT INTO threads (id, title, last_updated, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		thread.ID, thread.Title, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return thread, nil
}

// ListThreads returns all threads ordered by last_updated descending.
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]*domain.Thread, error) {
	query := `SELECT id, title, last_updated, created_at FROM threads ORDER BY last_updated DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close thread rows", "error", closeErr)
		}
	}()

	var threads []*domain.Thread
	for rows.Next() {
		var t domain.Thread
		var lastUpdated, createdAt int64
		if err := rows.Scan(&t.ID, &t.Title, &lastUpdated, &createdAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		t.LastUpdated = time.UnixMilli(lastUpdated)
		t.CreatedAt = time.UnixMilli(createdAt)
		threads = append(threads, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// GetThread retrieves one thread by id.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	query := `SELECT id, title, last_updated, created_at FROM threads WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, threadID)

	var t domain.Thread
	var lastUpdated, createdAt int64
	err := row.Scan(&t.ID, &t.Title, &lastUpdated, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread row: %w", err)
	}
	t.LastUpdated = time.UnixMilli(lastUpdated)
	t.CreatedAt = time.UnixMilli(createdAt)
	return &t, nil
}

// DeleteThread removes a thread and all its messages in one transaction.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back delete transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete transaction: %w", err)
	}
	return nil
}

// TouchThread bumps a thread's last_updated timestamp.
func (s *SQLiteStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE threads SET last_updated = ? WHERE id = ?`, at.UnixMilli(), threadID)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage durably writes one message, assigns its canonical id, and
// bumps the parent thread's last_updated in the same transaction.
//
// Transient SQLITE_BUSY conflicts are retried a few times: this write is
// the finalization commit and must not be lost to another connection
// holding the write lock for a moment.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg NewMessage) (*MessageRecord, error) {
	var rec *MessageRecord
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		rec, err = s.createMessageTx(ctx, msg)
		if err == nil || !shared.IsSQLiteConflict(err) {
			return rec, err
		}
		slog.Warn("message write hit a lock conflict, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return rec, err
}

func (s *SQLiteStore) createMessageTx(ctx context.Context, msg NewMessage) (*MessageRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin message transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back message transaction", "error", rbErr)
		}
	}()

	now := time.Now()
	rec := &MessageRecord{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}

	var toolCallsJSON interface{}
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("encode tool calls: %w", err)
		}
		toolCallsJSON = string(encoded)
	}

	query := `
	INSERT INTO messages (
		id, thread_id, user_id, sender, text, think_content, reply_content,
		think_duration, tool_calls_json, timestamp, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		rec.ID, msg.ThreadID, msg.UserID, string(msg.Sender),
		nullableString(msg.Text), nullableString(msg.ThinkContent), nullableString(msg.ReplyContent),
		msg.ThinkDuration, toolCallsJSON,
		msg.Timestamp.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE threads SET last_updated = ? WHERE id = ?`, now.UnixMilli(), msg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("bump thread last_updated: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message transaction: %w", err)
	}
	return rec, nil
}

// ListMessages returns a thread's committed messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]*domain.Message, error) {
	query := `
		SELECT id, sender, text, think_content, reply_content,
		       think_duration, tool_calls_json, timestamp, created_at
		FROM messages WHERE thread_id = ? ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		var sender string
		var text, thinkContent, replyContent, toolCallsJSON sql.NullString
		var thinkDuration sql.NullInt64
		var timestamp, createdAt int64

		if err := rows.Scan(
			&m.ID, &sender, &text, &thinkContent, &replyContent,
			&thinkDuration, &toolCallsJSON, &timestamp, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		m.Sender = domain.Sender(sender)
		m.RawText = text.String
		m.ThinkContent = thinkContent.String
		m.ReplyContent = replyContent.String
		m.ThinkDuration = thinkDuration.Int64
		m.Timestamp = time.UnixMilli(timestamp)
		created := time.UnixMilli(createdAt)
		m.CreatedAt = &created
		m.Canonical = true
		m.Phase = domain.PhaseCommitted

		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls); err != nil {
				slog.Warn("failed to decode tool calls", "message_id", m.ID, "error", err)
			}
		}

		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
