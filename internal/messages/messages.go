// Package messages persists chat messages and their indexing state. It is
// the system of record the indexing pipeline reads from and reports into:
// a message's vector exists in the index exactly when its status here says
// indexed.
package messages

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("message not found")

// IndexStatus is a message's position in the indexing lifecycle.
type IndexStatus string

const (
	// StatusPending means the message awaits indexing (new or edited).
	StatusPending IndexStatus = "pending"
	// StatusIndexed means the message's current text is queryable.
	StatusIndexed IndexStatus = "indexed"
	// StatusFailed means indexing gave up after exhausting retries.
	StatusFailed IndexStatus = "failed"
)

// MessageRecord is one chat message plus its indexing state.
type MessageRecord struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Sender       string      `json:"sender"`
	Text         string      `json:"text"`
	CreatedAt    time.Time   `json:"created_at"`
	IndexStatus  IndexStatus `json:"index_status"`
}

// Store is the persistence surface the indexing and search pipelines use.
type Store interface {
	// SaveMessage inserts or replaces a message. An empty IndexStatus
	// defaults to pending.
	SaveMessage(ctx context.Context, m MessageRecord) error

	// Get returns one message or ErrNotFound.
	Get(ctx context.Context, id string) (MessageRecord, error)

	// DeleteMessage removes a message. Deleting an absent ID is a no-op.
	DeleteMessage(ctx context.Context, id string) error

	// SetIndexStatus updates a message's indexing state, or ErrNotFound.
	SetIndexStatus(ctx context.Context, id string, status IndexStatus) error

	// ListByIDs fetches the given messages. Missing IDs are skipped, not
	// errors; order follows ids.
	ListByIDs(ctx context.Context, ids []string) ([]MessageRecord, error)

	// ListWithStatus returns up to limit messages in the given state whose
	// state last changed at or before olderThan (zero time means no bound),
	// oldest change first.
	ListWithStatus(ctx context.Context, status IndexStatus, olderThan time.Time, limit int) ([]MessageRecord, error)

	// Participants returns the distinct senders of a conversation, sorted.
	Participants(ctx context.Context, conversation string) ([]string, error)

	// CountByStatus returns message counts per indexing state.
	CountByStatus(ctx context.Context) (map[IndexStatus]int, error)
}
