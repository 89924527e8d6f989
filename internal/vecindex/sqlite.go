package vecindex

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLite implements Index.
var _ Index = (*SQLite)(nil)

const defaultOverfetchFactor = 4

// SQLite provides vector storage and brute-force cosine similarity search
// backed by SQLite, for deployments without a Qdrant instance.
//
// The backend has no native metadata filtering: filtered queries over-fetch
// candidates by a configurable factor and filter client-side, so a highly
// selective filter can return fewer matches than requested.
type SQLite struct {
	db        *sql.DB
	overfetch int
}

// NewSQLite wraps an existing *sql.DB for vector operations. The
// message_vectors table must already exist (created via migrations).
func NewSQLite(db *sql.DB, overfetchFactor int) *SQLite {
	if overfetchFactor < 1 {
		overfetchFactor = defaultOverfetchFactor
	}
	return &SQLite{db: db, overfetch: overfetchFactor}
}

func (s *SQLite) Upsert(ctx context.Context, e Entry) error {
	keywords, err := json.Marshal(e.Keywords)
	if err != nil {
		return err
	}
	mentions, err := json.Marshal(e.Mentions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_vectors (id, conversation, sender, created_at, keywords, mentions, truncated, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation = excluded.conversation,
			sender       = excluded.sender,
			created_at   = excluded.created_at,
			keywords     = excluded.keywords,
			mentions     = excluded.mentions,
			truncated    = excluded.truncated,
			embedding    = excluded.embedding`,
		e.ID, e.Conversation, e.Sender, e.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(keywords), string(mentions), e.Truncated, encodeFloat32s(e.Vector))
	if err != nil {
		return fmt.Errorf("upserting vector %s: %w", e.ID, err)
	}
	return nil
}

// idScore holds only the ID and score during the scan phase of Query.
// Payload fields are fetched only for top candidates.
type idScore struct {
	ID    string
	Score float32
}

func (s *SQLite) Query(ctx context.Context, vector []float32, limit int, f Filter) ([]Match, error) {
	if limit < 1 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	scanLimit := limit
	if !f.isZero() {
		scanLimit = limit * s.overfetch
		slog.Info("vecindex: sqlite backend has no native filtering, over-fetching for client-side filter",
			"limit", limit, "scan_limit", scanLimit)
	}

	// Phase 1: scan only id + embedding to find candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM message_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < scanLimit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch payload fields only for the candidates.
	ids := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, conversation, created_at FROM message_vectors
		WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	payloadRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching candidate payloads: %w", err)
	}
	defer payloadRows.Close()

	var matches []Match
	for payloadRows.Next() {
		var id, conversation, createdRaw string
		if err := payloadRows.Scan(&id, &conversation, &createdRaw); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
		}
		if !f.matches(conversation, createdAt) {
			continue
		}
		matches = append(matches, Match{
			ID:         id,
			Similarity: float64(scores[id]),
			CreatedAt:  createdAt,
		})
	}
	if err := payloadRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}

	// Sort by similarity descending (IN query doesn't preserve order).
	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes a vector by message ID. Deleting an absent ID is a no-op.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_vectors WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting vector %s: %w", id, err)
	}
	return nil
}

// sortMatches sorts by similarity descending. Used for small slices.
func sortMatches(matches []Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Similarity > matches[j-1].Similarity; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, tracking top
// candidates during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
