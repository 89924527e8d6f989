// Package api exposes the service over HTTP and MCP. The HTTP surface
// takes message lifecycle events from the chat store, answers semantic
// searches, and reports indexing health; the MCP surface exposes the same
// search to assistant tooling over stdio.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaychat/semsearch/internal/breaker"
	"github.com/relaychat/semsearch/internal/fault"
	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/metrics"
	"github.com/relaychat/semsearch/internal/search"
)

const maxRequestBodySize = 1 << 20 // 1MB

// EventSink abstracts the indexing intake for the HTTP layer.
type EventSink interface {
	OnMessageCreated(ctx context.Context, m messages.MessageRecord) error
	OnMessageEdited(ctx context.Context, m messages.MessageRecord) error
	OnMessageDeleted(ctx context.Context, id string) error
	IndexMessage(ctx context.Context, m messages.MessageRecord) error
	QueueDepth() int
}

// SearchRunner abstracts semantic search for the HTTP layer.
type SearchRunner interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, search.Metadata, error)
}

type AppDeps struct {
	Store    *messages.SQLite
	Events   EventSink
	Searcher SearchRunner
	Token    string
	Breakers []*breaker.Breaker // reported on /v1/status
	Metrics  *metrics.Metrics   // optional; if nil, /metrics is absent
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/events/message-created", handleMessageCreated(deps))
		r.Post("/events/message-edited", handleMessageEdited(deps))
		r.Post("/events/message-deleted", handleMessageDeleted(deps))

		r.Post("/messages", handleCreateMessage(deps))
		r.Post("/index", handleIndex(deps))
		r.Post("/search", handleSearch(deps))
		r.Get("/messages/{id}/index-status", handleIndexStatus(deps))
		r.Get("/status", handleStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type messageRequest struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Sender       string    `json:"sender"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

func (req messageRequest) record() messages.MessageRecord {
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return messages.MessageRecord{
		ID:           req.ID,
		Conversation: req.Conversation,
		Sender:       req.Sender,
		Text:         req.Text,
		CreatedAt:    createdAt,
	}
}

// decodeMessage reads and validates a message payload. requireID is false
// only for the intake route, which mints identifiers itself.
func decodeMessage(w http.ResponseWriter, r *http.Request, requireID bool) (messageRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return req, false
	}
	if requireID && req.ID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
		return req, false
	}
	if req.Conversation == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation is required")
		return req, false
	}
	if req.Sender == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "sender is required")
		return req, false
	}
	if req.Text == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return req, false
	}
	return req, true
}

func handleMessageCreated(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMessage(w, r, true)
		if !ok {
			return
		}
		if err := deps.Events.OnMessageCreated(r.Context(), req.record()); err != nil {
			writeFault(w, err)
			return
		}
		writeQueued(w, req.ID)
	}
}

func handleMessageEdited(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMessage(w, r, true)
		if !ok {
			return
		}
		if err := deps.Events.OnMessageEdited(r.Context(), req.record()); err != nil {
			writeFault(w, err)
			return
		}
		writeQueued(w, req.ID)
	}
}

func handleMessageDeleted(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
			return
		}
		if err := deps.Events.OnMessageDeleted(r.Context(), req.ID); err != nil {
			writeFault(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": req.ID, "status": "deleted"})
	}
}

// handleCreateMessage is the standalone intake: unlike the event routes it
// mints an identifier when the caller supplies none.
func handleCreateMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeMessage(w, r, false)
		if !ok {
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if err := deps.Events.OnMessageCreated(r.Context(), req.record()); err != nil {
			writeFault(w, err)
			return
		}
		writeQueued(w, req.ID)
	}
}

func handleIndex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
			return
		}
		if err := deps.Events.IndexMessage(r.Context(), messages.MessageRecord{ID: req.ID}); err != nil {
			writeFault(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": req.ID, "status": "indexed"})
	}
}

type searchRequest struct {
	Query        string     `json:"query"`
	Limit        int        `json:"limit"`
	Conversation string     `json:"conversation"`
	After        *time.Time `json:"after,omitempty"`
	Before       *time.Time `json:"before,omitempty"`
}

type searchResponse struct {
	Results  []search.Result `json:"results"`
	Metadata search.Metadata `json:"metadata"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		q := search.Query{
			Text:         req.Query,
			Limit:        req.Limit,
			Conversation: req.Conversation,
		}
		if req.After != nil {
			q.CreatedAfter = *req.After
		}
		if req.Before != nil {
			q.CreatedBefore = *req.Before
		}

		results, meta, err := deps.Searcher.Search(r.Context(), q)
		if err != nil {
			writeFault(w, err)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordSearch(meta.Elapsed, meta.Total)
		}
		if results == nil {
			results = []search.Result{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Results: results, Metadata: meta})
	}
}

func handleIndexStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		m, err := deps.Store.Get(r.Context(), id)
		if errors.Is(err, messages.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load message: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":           m.ID,
			"index_status": string(m.IndexStatus),
		})
	}
}

type statusResponse struct {
	Circuits   []breaker.Snapshot           `json:"circuits"`
	QueueDepth int                          `json:"queue_depth"`
	Messages   map[messages.IndexStatus]int `json:"messages"`
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountByStatus(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count messages: %v", err)
			return
		}

		resp := statusResponse{
			Circuits:   make([]breaker.Snapshot, 0, len(deps.Breakers)),
			QueueDepth: deps.Events.QueueDepth(),
			Messages:   counts,
		}
		for _, b := range deps.Breakers {
			resp.Circuits = append(resp.Circuits, b.Snapshot())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func writeQueued(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "queued"})
}

// writeFault maps a typed pipeline error onto an HTTP response. Overload
// and open-circuit answers carry Retry-After so the store's trigger can
// back off before redelivering.
func writeFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, messages.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "message not found")
	case errors.Is(err, fault.ErrOverloaded):
		w.Header().Set("Retry-After", "5")
		httpError(w, http.StatusServiceUnavailable, "overloaded_error", "%v", err)
	case errors.Is(err, fault.ErrUnavailable):
		w.Header().Set("Retry-After", "15")
		httpError(w, http.StatusServiceUnavailable, "unavailable_error", "%v", err)
	case errors.Is(err, fault.ErrDeadline):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v", err)
	case errors.Is(err, fault.ErrTransient):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
