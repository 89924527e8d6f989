package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaychat/semsearch/internal/fault"
)

// Compile-time check that Qdrant implements Index.
var _ Index = (*Qdrant)(nil)

// qdrantNamespace seeds deterministic point IDs. Qdrant only accepts UUID or
// integer point IDs, so message IDs are mapped through UUIDv5; the original
// ID travels in the payload.
var qdrantNamespace = uuid.MustParse("9a7312a4-51a3-4f0b-b0ec-62137c0ab3d1")

const qdrantHTTPTimeout = 15 * time.Second

// Qdrant talks to a Qdrant collection over its HTTP API. Filters are pushed
// down natively as must/match and range conditions.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	dims       int
	client     *http.Client
}

// NewQdrant creates a client for one collection. Call EnsureCollection
// before first use.
func NewQdrant(baseURL, apiKey, collection string, dims int) *Qdrant {
	return &Qdrant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		dims:       dims,
		client:     &http.Client{Timeout: qdrantHTTPTimeout},
	}
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

// qdrantStatus is either the string "ok" or an object carrying an error.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func pointID(messageID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(messageID)).String()
}

func (q *Qdrant) Upsert(ctx context.Context, e Entry) error {
	payload := map[string]any{
		"message_id":   e.ID,
		"conversation": e.Conversation,
		"sender":       e.Sender,
		"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"keywords":     e.Keywords,
		"mentions":     e.Mentions,
		"truncated":    e.Truncated,
	}
	req := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(e.ID),
			"vector":  e.Vector,
			"payload": payload,
		}},
	}

	var rsp qdrantEnvelope[json.RawMessage]
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(q.collection))
	if err := q.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}
	return rsp.Status.err()
}

func (q *Qdrant) Query(ctx context.Context, vector []float32, limit int, f Filter) ([]Match, error) {
	if limit < 1 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if must := filterClauses(f); len(must) > 0 {
		req["filter"] = map[string]any{"must": must}
	}

	var rsp qdrantEnvelope[[]qdrantPoint]
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(q.collection))
	if err := q.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return nil, err
	}
	if err := rsp.Status.err(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rsp.Result))
	for _, p := range rsp.Result {
		id := payloadString(p.Payload, "message_id")
		if id == "" {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, payloadString(p.Payload, "created_at"))
		matches = append(matches, Match{
			ID:         id,
			Similarity: p.Score,
			CreatedAt:  createdAt,
		})
	}
	return matches, nil
}

func (q *Qdrant) Delete(ctx context.Context, id string) error {
	req := map[string]any{
		"points": []string{pointID(id)},
	}

	var rsp qdrantEnvelope[json.RawMessage]
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(q.collection))
	if err := q.do(ctx, http.MethodPost, path, req, &rsp); err != nil {
		return err
	}
	return rsp.Status.err()
}

// EnsureCollection creates the collection when it does not exist yet.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return q.createCollection(ctx)
}

func (q *Qdrant) collectionExists(ctx context.Context) (bool, error) {
	var rsp qdrantEnvelope[json.RawMessage]
	path := fmt.Sprintf("/collections/%s", url.PathEscape(q.collection))
	err := q.do(ctx, http.MethodGet, path, nil, &rsp)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(rsp.Status.State, "ok"), nil
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	req := map[string]any{
		"vectors": map[string]any{
			"size":     q.dims,
			"distance": "Cosine",
		},
	}

	var rsp qdrantEnvelope[json.RawMessage]
	path := fmt.Sprintf("/collections/%s", url.PathEscape(q.collection))
	if err := q.do(ctx, http.MethodPut, path, req, &rsp); err != nil {
		return err
	}
	return rsp.Status.err()
}

func filterClauses(f Filter) []map[string]any {
	var must []map[string]any
	if f.Conversation != "" {
		must = append(must, map[string]any{
			"key":   "conversation",
			"match": map[string]any{"value": f.Conversation},
		})
	}
	rng := map[string]any{}
	if !f.CreatedAfter.IsZero() {
		rng["gte"] = f.CreatedAfter.UTC().Format(time.RFC3339Nano)
	}
	if !f.CreatedBefore.IsZero() {
		rng["lte"] = f.CreatedBefore.UTC().Format(time.RFC3339Nano)
	}
	if len(rng) > 0 {
		must = append(must, map[string]any{
			"key":   "created_at",
			"range": rng,
		})
	}
	return must
}

func (s qdrantStatus) err() error {
	if s.Error != "" {
		return fault.Transient(fmt.Errorf("qdrant: %s", s.Error))
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func (q *Qdrant) do(ctx context.Context, method, path string, req, rsp any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		request.Header.Set("api-key", q.apiKey)
	}

	response, err := q.client.Do(request)
	if err != nil {
		return fault.FromNetwork(err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return fault.FromNetwork(err)
	}

	if response.StatusCode >= 400 {
		return fault.FromHTTPStatus(response.StatusCode,
			fmt.Errorf("qdrant http %d: %s", response.StatusCode, strings.TrimSpace(string(payload))))
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return fault.Transient(fmt.Errorf("decoding qdrant response: %w", err))
		}
	}
	return nil
}
