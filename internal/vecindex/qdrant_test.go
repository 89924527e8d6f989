package vecindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaychat/semsearch/internal/fault"
)

func testEntry() Entry {
	return Entry{
		ID:           "msg-1",
		Vector:       []float32{0.1, 0.2, 0.3},
		Conversation: "conv-9",
		Sender:       "ana",
		CreatedAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Keywords:     []string{"stripe", "payments"},
		Mentions:     []string{"bo"},
	}
}

func TestQdrantUpsert(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/messages/points" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Error("upsert request missing wait=true")
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"status":"ok","result":{}}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	if err := q.Upsert(context.Background(), testEntry()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points = %v, want one point", captured["points"])
	}
	p := points[0].(map[string]any)
	if p["id"] != pointID("msg-1") {
		t.Errorf("point id = %v, want %s", p["id"], pointID("msg-1"))
	}
	payload, ok := p["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want map", p["payload"])
	}
	if payload["message_id"] != "msg-1" {
		t.Errorf("payload message_id = %v, want msg-1", payload["message_id"])
	}
	if payload["conversation"] != "conv-9" {
		t.Errorf("payload conversation = %v, want conv-9", payload["conversation"])
	}
	if payload["created_at"] != "2025-06-01T10:00:00Z" {
		t.Errorf("payload created_at = %v", payload["created_at"])
	}
}

func TestQdrantQuery(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/messages/points/search" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"status":"ok","result":[
			{"id":"x","score":0.91,"payload":{"message_id":"msg-1","created_at":"2025-06-01T10:00:00Z"}},
			{"id":"y","score":0.72,"payload":{"message_id":"msg-2","created_at":"2025-05-30T08:00:00Z"}}
		]}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	f := Filter{
		Conversation: "conv-9",
		CreatedAfter: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	matches, err := q.Query(context.Background(), []float32{0.1, 0.2, 0.3}, 10, f)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "msg-1" || matches[0].Similarity != 0.91 {
		t.Errorf("matches[0] = %+v", matches[0])
	}
	if want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC); !matches[0].CreatedAt.Equal(want) {
		t.Errorf("matches[0].CreatedAt = %v, want %v", matches[0].CreatedAt, want)
	}

	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("request has no filter: %v", captured)
	}
	must, ok := filter["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("filter.must = %v, want 2 clauses", filter["must"])
	}
	match := must[0].(map[string]any)
	if match["key"] != "conversation" {
		t.Errorf("first clause key = %v, want conversation", match["key"])
	}
	rng := must[1].(map[string]any)
	if rng["key"] != "created_at" {
		t.Errorf("second clause key = %v, want created_at", rng["key"])
	}
	bounds := rng["range"].(map[string]any)
	if bounds["gte"] != "2025-05-01T00:00:00Z" {
		t.Errorf("range gte = %v", bounds["gte"])
	}
	if _, hasLTE := bounds["lte"]; hasLTE {
		t.Error("range has lte, want gte only")
	}
}

func TestQdrantQuery_NoFilter(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"status":"ok","result":[]}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	matches, err := q.Query(context.Background(), []float32{0.1, 0.2, 0.3}, 5, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
	if _, hasFilter := captured["filter"]; hasFilter {
		t.Error("zero filter produced a filter clause")
	}
	if captured["with_payload"] != true {
		t.Error("search request missing with_payload")
	}
}

func TestQdrantDelete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/messages/points/delete" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"status":"ok","result":{}}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	if err := q.Delete(context.Background(), "msg-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points = %v, want one id", captured["points"])
	}
	if points[0] != pointID("msg-1") {
		t.Errorf("deleted point = %v, want %s", points[0], pointID("msg-1"))
	}
}

func TestQdrantAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		w.Write([]byte(`{"status":"ok","result":{}}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "sekrit", "messages", 3)
	if err := q.Delete(context.Background(), "msg-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotKey != "sekrit" {
		t.Errorf("api-key header = %q, want %q", gotKey, "sekrit")
	}
}

func TestQdrantStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":{"error":"wrong vector size"},"result":null}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	err := q.Upsert(context.Background(), testEntry())
	if err == nil {
		t.Fatal("expected error from status object")
	}
	if !fault.IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
}

func TestQdrantHTTPErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"server error", http.StatusInternalServerError, fault.ErrTransient},
		{"rate limited", http.StatusTooManyRequests, fault.ErrTransient},
		{"bad request", http.StatusBadRequest, fault.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			q := NewQdrant(srv.URL, "", "messages", 3)
			err := q.Upsert(context.Background(), testEntry())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQdrantDown(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	err := q.Upsert(context.Background(), testEntry())
	if !fault.IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
}

func TestEnsureCollection_CreatesMissing(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/messages" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&created)
			w.Write([]byte(`{"status":"ok","result":true}`))
		}
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 1536)
	if err := q.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	vectors, ok := created["vectors"].(map[string]any)
	if !ok {
		t.Fatalf("create request = %v, want vectors config", created)
	}
	if vectors["size"] != float64(1536) {
		t.Errorf("vector size = %v, want 1536", vectors["size"])
	}
	if vectors["distance"] != "Cosine" {
		t.Errorf("distance = %v, want Cosine", vectors["distance"])
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	var puts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts++
		}
		w.Write([]byte(`{"status":"ok","result":{}}`))
	}))
	defer srv.Close()

	q := NewQdrant(srv.URL, "", "messages", 3)
	if err := q.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if puts != 0 {
		t.Errorf("collection recreated %d times, want 0", puts)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	if pointID("msg-1") != pointID("msg-1") {
		t.Error("same message ID produced different point IDs")
	}
	if pointID("msg-1") == pointID("msg-2") {
		t.Error("different message IDs produced the same point ID")
	}
}
