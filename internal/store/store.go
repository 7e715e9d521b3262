// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/evowork/evochat/internal/domain"
)

// ErrNotFound is returned when a thread or message does not exist.
var ErrNotFound = errors.New("not found")

// NewMessage is the payload for a single durable message write.
type NewMessage struct {
	ThreadID      string
	UserID        string
	Sender        domain.Sender
	Text          string
	ThinkContent  string
	ReplyContent  string
	ThinkDuration int64
	ToolCalls     []domain.ToolCall
	Timestamp     time.Time
}

// MessageRecord is what the store assigns on a successful write: the
// canonical id and the persistence time. Local classification stays
// authoritative for content; the store is authoritative for identity
// and time.
type MessageRecord struct {
	ID        string
	CreatedAt time.Time
}

// Repository defines the interface for persisting threads and messages.
//
// CreateMessage is safe to call at most once per logical turn under the
// finalization locking discipline; it returns a stable canonical id and
// bumps the parent thread's last_updated.
type Repository interface {
	// CreateThread creates a conversation container with the given title.
	CreateThread(ctx context.Context, title string) (*domain.Thread, error)

	// ListThreads returns all threads ordered by last_updated descending.
	ListThreads(ctx context.Context) ([]*domain.Thread, error)

	// GetThread retrieves one thread, or ErrNotFound.
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// DeleteThread removes a thread and cascades to all its messages.
	// Returns ErrNotFound if the thread does not exist.
	DeleteThread(ctx context.Context, threadID string) error

	// TouchThread bumps a thread's last_updated timestamp.
	TouchThread(ctx context.Context, threadID string, at time.Time) error

	// CreateMessage durably writes one message and returns its canonical
	// identity. Returns ErrNotFound if the thread does not exist.
	CreateMessage(ctx context.Context, msg NewMessage) (*MessageRecord, error)

	// ListMessages returns a thread's committed messages ordered by
	// timestamp ascending.
	ListMessages(ctx context.Context, threadID string) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
