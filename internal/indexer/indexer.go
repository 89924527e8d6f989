// Package indexer orchestrates the message indexing pipeline: normalize,
// embed, extract metadata, upsert into the vector index, and record the
// outcome on the message. A fixed worker pool processes queued messages
// concurrently; steps within one message run sequentially.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaychat/semsearch/internal/fault"
	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/metadata"
	"github.com/relaychat/semsearch/internal/normalize"
	"github.com/relaychat/semsearch/internal/vecindex"
)

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter mutates the vector index.
type VectorWriter interface {
	Upsert(ctx context.Context, e vecindex.Entry) error
	Delete(ctx context.Context, id string) error
}

// MessageStore is the slice of the message store the indexer needs.
type MessageStore interface {
	SaveMessage(ctx context.Context, m messages.MessageRecord) error
	Get(ctx context.Context, id string) (messages.MessageRecord, error)
	DeleteMessage(ctx context.Context, id string) error
	SetIndexStatus(ctx context.Context, id string, status messages.IndexStatus) error
	ListWithStatus(ctx context.Context, status messages.IndexStatus, olderThan time.Time, limit int) ([]messages.MessageRecord, error)
	Participants(ctx context.Context, conversation string) ([]string, error)
}

// Config sizes the worker pool and the failed-message sweep.
type Config struct {
	Workers       int
	QueueCapacity int
	SweepInterval time.Duration
	SweepMinAge   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepMinAge <= 0 {
		c.SweepMinAge = 5 * time.Minute
	}
	return c
}

// Indexer runs the indexing pipeline. Create with New; stop with Close.
type Indexer struct {
	store      MessageStore
	embedder   Embedder
	index      VectorWriter
	normalizer *normalize.Normalizer
	extractor  *metadata.Extractor
	cfg        Config
	onOutcome  func(outcome string)
	logger     *slog.Logger

	queue chan string
	locks *idLocks
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an Indexer and starts its worker pool. onOutcome receives
// "indexed", "failed" or "skipped" per processed message and may be nil.
func New(store MessageStore, embedder Embedder, index VectorWriter, n *normalize.Normalizer, x *metadata.Extractor, cfg Config, onOutcome func(outcome string)) *Indexer {
	if onOutcome == nil {
		onOutcome = func(string) {}
	}
	cfg = cfg.withDefaults()
	ix := &Indexer{
		store:      store,
		embedder:   embedder,
		index:      index,
		normalizer: n,
		extractor:  x,
		cfg:        cfg,
		onOutcome:  onOutcome,
		logger:     slog.Default(),
		queue:      make(chan string, cfg.QueueCapacity),
		locks:      newIDLocks(),
	}
	for i := 0; i < cfg.Workers; i++ {
		ix.wg.Add(1)
		go ix.worker()
	}
	return ix
}

// QueueDepth reports how many messages are waiting for a worker.
func (ix *Indexer) QueueDepth() int { return len(ix.queue) }

// Enqueue queues a message for asynchronous indexing. A full queue rejects
// with fault.ErrOverloaded; the event source is responsible for redelivery.
func (ix *Indexer) Enqueue(m messages.MessageRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fault.Overloaded(errors.New("indexer is shut down"))
	}
	select {
	case ix.queue <- m.ID:
		return nil
	default:
		return fault.Overloaded(fmt.Errorf("indexing queue full (capacity %d)", ix.cfg.QueueCapacity))
	}
}

// OnMessageCreated persists the record and queues it for indexing.
func (ix *Indexer) OnMessageCreated(ctx context.Context, m messages.MessageRecord) error {
	return ix.intake(ctx, m)
}

// OnMessageEdited re-persists the edited record and queues re-indexing; the
// eventual upsert replaces the stale vector.
func (ix *Indexer) OnMessageEdited(ctx context.Context, m messages.MessageRecord) error {
	return ix.intake(ctx, m)
}

func (ix *Indexer) intake(ctx context.Context, m messages.MessageRecord) error {
	m.IndexStatus = messages.StatusPending
	if err := ix.store.SaveMessage(ctx, m); err != nil {
		return err
	}
	return ix.Enqueue(m)
}

// OnMessageDeleted removes the message's vector and its record. The vector
// goes first so a failure leaves the record in place for redelivery.
func (ix *Indexer) OnMessageDeleted(ctx context.Context, id string) error {
	unlock := ix.locks.lock(id)
	defer unlock()

	if err := ix.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting vector for %s: %w", id, err)
	}
	return ix.store.DeleteMessage(ctx, id)
}

// IndexMessage synchronously indexes the message with m's ID, reading the
// stored record so the latest text wins. Returns messages.ErrNotFound when
// the message does not exist.
func (ix *Indexer) IndexMessage(ctx context.Context, m messages.MessageRecord) error {
	unlock := ix.locks.lock(m.ID)
	defer unlock()
	return ix.indexLocked(ctx, m.ID)
}

// Close stops accepting work and waits for in-flight messages to finish.
func (ix *Indexer) Close() {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	ix.closed = true
	close(ix.queue)
	ix.mu.Unlock()
	ix.wg.Wait()
}

func (ix *Indexer) worker() {
	defer ix.wg.Done()
	for id := range ix.queue {
		// Workers deliberately run without the enqueueing caller's
		// context: the queue decouples indexing from the event source,
		// and Close drains in-flight work.
		ix.processQueued(context.Background(), id)
	}
}

func (ix *Indexer) processQueued(ctx context.Context, id string) {
	unlock := ix.locks.lock(id)
	defer unlock()

	err := ix.indexLocked(ctx, id)
	if errors.Is(err, messages.ErrNotFound) {
		// Deleted while queued.
		ix.logger.Debug("indexer: message gone, skipping", "message_id", id)
	}
}

// indexLocked runs the pipeline for one message. The caller holds the
// message's lock, so concurrent work on the same ID is serialized and the
// latest stored text always produces the final vector.
func (ix *Indexer) indexLocked(ctx context.Context, id string) error {
	m, err := ix.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, messages.ErrNotFound) {
			ix.onOutcome("skipped")
			return err
		}
		ix.onOutcome("failed")
		ix.logger.Warn("indexer: message failed", "message_id", id, "step", "load", "error", err)
		return err
	}

	step, err := ix.runPipeline(ctx, m)
	if err != nil {
		ix.onOutcome("failed")
		ix.logger.Warn("indexer: message failed", "message_id", id, "step", step, "error", err)
		if markErr := ix.store.SetIndexStatus(ctx, id, messages.StatusFailed); markErr != nil {
			ix.logger.Error("indexer: could not mark message failed", "message_id", id, "error", markErr)
		}
		return err
	}

	if err := ix.store.SetIndexStatus(ctx, id, messages.StatusIndexed); err != nil {
		ix.onOutcome("failed")
		ix.logger.Error("indexer: could not mark message indexed", "message_id", id, "error", err)
		return err
	}
	ix.onOutcome("indexed")
	ix.logger.Debug("indexer: message indexed", "message_id", id)
	return nil
}

// runPipeline executes normalize → embed → extract → upsert, returning the
// failing step's name for the status log.
func (ix *Indexer) runPipeline(ctx context.Context, m messages.MessageRecord) (string, error) {
	normalized, err := ix.normalizer.Normalize(m.Text)
	if err != nil {
		return "normalize", err
	}

	vec, err := ix.embedder.Embed(ctx, normalized.Text)
	if err != nil {
		return "embed", err
	}

	senders, err := ix.store.Participants(ctx, m.Conversation)
	if err != nil {
		return "metadata", err
	}
	participants := make([]metadata.Participant, len(senders))
	for i, s := range senders {
		participants[i] = metadata.Participant{ID: s, Name: s}
	}
	extracted := ix.extractor.Extract(normalized.Text, participants)

	entry := vecindex.Entry{
		ID:           m.ID,
		Vector:       vec,
		Conversation: m.Conversation,
		Sender:       m.Sender,
		CreatedAt:    m.CreatedAt,
		Keywords:     extracted.Keywords,
		Mentions:     extracted.Mentions,
		Truncated:    normalized.Truncated,
	}
	if err := ix.index.Upsert(ctx, entry); err != nil {
		return "upsert", err
	}
	return "", nil
}
