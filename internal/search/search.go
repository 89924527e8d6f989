// Package search answers semantic queries over indexed messages. A query
// is normalized, embedded, matched against the vector index within the
// caller's visible scope, joined with its message records, and ranked by
// a blend of similarity and recency.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/relaychat/semsearch/internal/breaker"
	"github.com/relaychat/semsearch/internal/fault"
	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/normalize"
	"github.com/relaychat/semsearch/internal/vecindex"
)

const (
	defaultDeadline      = time.Second
	defaultMinQueryChars = 3
	defaultMaxQueryChars = 500
	defaultLimit         = 10
	defaultMaxLimit      = 50

	fetchChunkSize   = 16
	fetchConcurrency = 4
)

// Query is a semantic search request. Zero scope fields mean unrestricted;
// time bounds are inclusive.
type Query struct {
	Text          string
	Limit         int
	Conversation  string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Result is one ranked hit joined with its full message record.
type Result struct {
	Message    messages.MessageRecord `json:"message"`
	Similarity float64                `json:"similarity"`
	Score      float64                `json:"score"`
}

// Metadata describes how a search was executed.
type Metadata struct {
	NormalizedQuery string        `json:"normalized_query"`
	Total           int           `json:"total"`
	Elapsed         time.Duration `json:"elapsed"`
	Partial         bool          `json:"partial"`
}

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorQuerier answers nearest-neighbor queries within a filter scope.
type VectorQuerier interface {
	Query(ctx context.Context, vector []float32, limit int, f vecindex.Filter) ([]vecindex.Match, error)
}

// RecordLister loads message records for matched identifiers.
type RecordLister interface {
	ListByIDs(ctx context.Context, ids []string) ([]messages.MessageRecord, error)
}

// Config bounds a search and tunes its ranking. Zero values fall back to
// the defaults.
type Config struct {
	Deadline      time.Duration
	MinQueryChars int
	MaxQueryChars int
	DefaultLimit  int
	MaxLimit      int
	Weights       Weights
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = defaultDeadline
	}
	if c.MinQueryChars <= 0 {
		c.MinQueryChars = defaultMinQueryChars
	}
	if c.MaxQueryChars <= 0 {
		c.MaxQueryChars = defaultMaxQueryChars
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = defaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = defaultMaxLimit
	}
	c.Weights = c.Weights.withDefaults()
	return c
}

// Searcher orchestrates the query pipeline: validate, pre-check circuits,
// normalize, embed, query the index, fetch records, rank.
type Searcher struct {
	embedder QueryEmbedder
	index    VectorQuerier
	store    RecordLister
	norm     *normalize.Normalizer
	cfg      Config

	embedBreaker *breaker.Breaker
	indexBreaker *breaker.Breaker

	logger *slog.Logger
}

// New creates a Searcher. The breakers are the same instances the embedding
// and index clients report through; either may be nil, which skips that
// pre-check.
func New(embedder QueryEmbedder, index VectorQuerier, store RecordLister, norm *normalize.Normalizer, cfg Config, embedBreaker, indexBreaker *breaker.Breaker) *Searcher {
	return &Searcher{
		embedder:     embedder,
		index:        index,
		store:        store,
		norm:         norm,
		cfg:          cfg.withDefaults(),
		embedBreaker: embedBreaker,
		indexBreaker: indexBreaker,
		logger:       slog.Default(),
	}
}

// Search runs one semantic query:
//  1. Pre-check both dependency circuits, failing fast while either refuses.
//  2. Validate and normalize the query text, clamp the limit.
//  3. Embed the normalized text.
//  4. Query the vector index with the scope filter.
//  5. Fetch the matched message records.
//  6. Rank and cut to the limit.
//
// The whole pipeline runs under the configured deadline. If the record
// fetch loses part of its work to the deadline, whatever was gathered is
// ranked and returned with Metadata.Partial set; an error comes back only
// when nothing was gathered at all.
func (s *Searcher) Search(ctx context.Context, q Query) (results []Result, meta Metadata, err error) {
	start := time.Now()
	defer func() { meta.Elapsed = time.Since(start) }()

	// An open circuit on either dependency fails the query before any
	// upstream work: embedding a query is wasted when the index cannot
	// answer. Once the cooldown elapses the pre-check stands aside and the
	// client wrapper admits its single probe.
	if s.embedBreaker != nil && s.embedBreaker.Open() {
		return nil, meta, fault.Unavailable("embedding")
	}
	if s.indexBreaker != nil && s.indexBreaker.Open() {
		return nil, meta, fault.Unavailable("index")
	}

	norm, err := s.norm.Normalize(q.Text)
	if err != nil {
		return nil, meta, err
	}
	if n := utf8.RuneCountInString(norm.Text); n < s.cfg.MinQueryChars || n > s.cfg.MaxQueryChars {
		return nil, meta, fault.Invalid(fmt.Errorf("query is %d chars after normalization, want %d to %d", n, s.cfg.MinQueryChars, s.cfg.MaxQueryChars))
	}
	meta.NormalizedQuery = norm.Text

	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	vector, err := s.embedder.Embed(ctx, norm.Text)
	if err != nil {
		return nil, meta, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Query(ctx, vector, limit, vecindex.Filter{
		Conversation:  q.Conversation,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
	})
	if err != nil {
		return nil, meta, fmt.Errorf("query index: %w", err)
	}
	if len(matches) == 0 {
		s.logger.Debug("search: no matches", "query_sha", queryHash(norm.Text))
		return nil, meta, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	records, dropped, err := s.fetchRecords(ctx, ids)
	if err != nil {
		return nil, meta, err
	}
	meta.Partial = dropped

	results = s.cfg.Weights.rank(matches, records, time.Now())
	if len(results) > limit {
		results = results[:limit]
	}
	meta.Total = len(results)

	s.logger.Debug("search: complete",
		"query_sha", queryHash(norm.Text),
		"results", meta.Total,
		"partial", meta.Partial,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return results, meta, nil
}

// fetchRecords loads message records in bounded parallel chunks. A chunk
// that fails is dropped rather than sinking the whole fetch, so a deadline
// that expires mid-fetch still yields the chunks that finished. An error
// comes back only when nothing was gathered.
func (s *Searcher) fetchRecords(ctx context.Context, ids []string) ([]messages.MessageRecord, bool, error) {
	var (
		mu       sync.Mutex
		records  []messages.MessageRecord
		firstErr error
		dropped  bool
	)

	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for begin := 0; begin < len(ids); begin += fetchChunkSize {
		chunk := ids[begin:min(begin+fetchChunkSize, len(ids))]
		g.Go(func() error {
			recs, err := s.store.ListByIDs(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				dropped = true
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	g.Wait()

	if len(records) == 0 && firstErr != nil {
		return nil, false, fmt.Errorf("fetch records: %w", fault.FromContext(firstErr))
	}
	return records, dropped, nil
}

// queryHash is what gets logged in place of query text. Raw queries never
// reach the logs.
func queryHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:6])
}
