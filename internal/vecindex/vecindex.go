// Package vecindex stores message embedding vectors and answers
// nearest-neighbor queries over them. Two backends exist: a Qdrant
// collection spoken to over HTTP, and a SQLite table scanned brute-force
// for small deployments.
package vecindex

import (
	"context"
	"time"
)

// Entry is one indexed message vector with its filterable payload.
type Entry struct {
	ID           string
	Vector       []float32
	Conversation string
	Sender       string
	CreatedAt    time.Time
	Keywords     []string
	Mentions     []string
	Truncated    bool
}

// Match is a nearest-neighbor hit. Similarity is cosine similarity against
// the query vector.
type Match struct {
	ID         string
	Similarity float64
	CreatedAt  time.Time
}

// Filter narrows a query to the caller's visible scope. Zero fields are
// ignored; time bounds are inclusive.
type Filter struct {
	Conversation  string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

func (f Filter) isZero() bool {
	return f.Conversation == "" && f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero()
}

func (f Filter) matches(conversation string, createdAt time.Time) bool {
	if f.Conversation != "" && conversation != f.Conversation {
		return false
	}
	if !f.CreatedAfter.IsZero() && createdAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && createdAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

// Index is implemented by vector index backends. Upsert is idempotent on
// Entry.ID; Delete of an absent ID succeeds.
type Index interface {
	Upsert(ctx context.Context, e Entry) error
	Query(ctx context.Context, vector []float32, limit int, f Filter) ([]Match, error)
	Delete(ctx context.Context, id string) error
}
