package search

import (
	"testing"
	"time"

	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/vecindex"
)

var rankNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func record(id string, createdAt time.Time) messages.MessageRecord {
	return messages.MessageRecord{
		ID:           id,
		Conversation: "conv-1",
		Sender:       "ana",
		Text:         "We decided to use Stripe for payments",
		CreatedAt:    createdAt,
	}
}

func TestRank_BlendsSimilarityAndRecency(t *testing.T) {
	w := Weights{}.withDefaults()

	// Old but very similar vs fresh but less similar: with the default
	// 0.8/0.2 split the fresh message wins.
	old := record("msg-old", rankNow.Add(-w.RecencyHorizon))
	fresh := record("msg-new", rankNow)
	matches := []vecindex.Match{
		{ID: "msg-old", Similarity: 0.9, CreatedAt: old.CreatedAt},
		{ID: "msg-new", Similarity: 0.8, CreatedAt: fresh.CreatedAt},
	}

	out := w.rank(matches, []messages.MessageRecord{old, fresh}, rankNow)
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	if out[0].Message.ID != "msg-new" {
		t.Errorf("top result = %s, want msg-new", out[0].Message.ID)
	}
	if got, want := out[0].Score, 0.8*0.8+1.0*0.2; !closeTo(got, want) {
		t.Errorf("fresh score = %v, want %v", got, want)
	}
	if got, want := out[1].Score, 0.9*0.8+0.0*0.2; !closeTo(got, want) {
		t.Errorf("old score = %v, want %v", got, want)
	}
}

func TestRank_ClampsSimilarity(t *testing.T) {
	w := Weights{}.withDefaults()
	rec := record("msg-1", rankNow)

	out := w.rank([]vecindex.Match{{ID: "msg-1", Similarity: -0.4}}, []messages.MessageRecord{rec}, rankNow)
	if len(out) != 1 {
		t.Fatalf("got %d results, want 1", len(out))
	}
	if out[0].Similarity != 0 {
		t.Errorf("Similarity = %v, want 0 (clamped)", out[0].Similarity)
	}

	out = w.rank([]vecindex.Match{{ID: "msg-1", Similarity: 1.7}}, []messages.MessageRecord{rec}, rankNow)
	if out[0].Similarity != 1 {
		t.Errorf("Similarity = %v, want 1 (clamped)", out[0].Similarity)
	}
}

func TestRank_MinSimilarityFloor(t *testing.T) {
	w := Weights{MinSimilarity: 0.5}.withDefaults()
	rec := record("msg-1", rankNow)

	out := w.rank([]vecindex.Match{{ID: "msg-1", Similarity: 0.49}}, []messages.MessageRecord{rec}, rankNow)
	if len(out) != 0 {
		t.Fatalf("got %d results under the floor, want 0", len(out))
	}
	out = w.rank([]vecindex.Match{{ID: "msg-1", Similarity: 0.5}}, []messages.MessageRecord{rec}, rankNow)
	if len(out) != 1 {
		t.Fatalf("got %d results at the floor, want 1", len(out))
	}
}

func TestRank_TieBreaks(t *testing.T) {
	// Recency weight zero makes equal similarities tie exactly.
	w := Weights{Similarity: 1, RecencyHorizon: time.Hour}

	older := record("msg-a", rankNow.Add(-10*time.Minute))
	newer := record("msg-b", rankNow)
	matches := []vecindex.Match{
		{ID: "msg-a", Similarity: 0.7},
		{ID: "msg-b", Similarity: 0.7},
	}
	out := w.rank(matches, []messages.MessageRecord{older, newer}, rankNow)
	if out[0].Message.ID != "msg-b" {
		t.Errorf("tie broken to %s, want the newer msg-b", out[0].Message.ID)
	}

	// Same timestamp too: lexical ID decides.
	twinA := record("msg-a", rankNow)
	twinB := record("msg-b", rankNow)
	out = w.rank(matches, []messages.MessageRecord{twinB, twinA}, rankNow)
	if out[0].Message.ID != "msg-a" {
		t.Errorf("full tie broken to %s, want msg-a", out[0].Message.ID)
	}
}

func TestRank_DropsMatchesWithoutRecords(t *testing.T) {
	w := Weights{}.withDefaults()
	rec := record("msg-1", rankNow)
	matches := []vecindex.Match{
		{ID: "msg-1", Similarity: 0.5},
		{ID: "msg-gone", Similarity: 0.9},
	}

	out := w.rank(matches, []messages.MessageRecord{rec}, rankNow)
	if len(out) != 1 || out[0].Message.ID != "msg-1" {
		t.Fatalf("results = %+v, want only msg-1", out)
	}
}

func TestRecencyBoost(t *testing.T) {
	w := Weights{}.withDefaults()
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1},
		{-time.Hour, 1},
		{w.RecencyHorizon / 2, 0.5},
		{w.RecencyHorizon, 0},
		{w.RecencyHorizon * 2, 0},
	}
	for _, tc := range cases {
		if got := w.recencyBoost(tc.age); !closeTo(got, tc.want) {
			t.Errorf("recencyBoost(%v) = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
