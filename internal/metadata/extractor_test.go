package metadata

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract_Keywords(t *testing.T) {
	e := NewExtractor(0)
	got := e.Extract("We decided to use Stripe for payments", nil)

	want := []string{"decided", "use", "stripe", "payments"}
	if !reflect.DeepEqual(got.Keywords, want) {
		t.Errorf("Keywords = %v, want %v", got.Keywords, want)
	}
}

func TestExtract_DeduplicatesAndLowercases(t *testing.T) {
	e := NewExtractor(0)
	got := e.Extract("Deploy DEPLOY deploy RELEASE release", nil)

	want := []string{"deploy", "release"}
	if !reflect.DeepEqual(got.Keywords, want) {
		t.Errorf("Keywords = %v, want %v", got.Keywords, want)
	}
}

func TestExtract_KeywordCap(t *testing.T) {
	e := NewExtractor(3)
	var words []string
	for _, w := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		words = append(words, w)
	}
	got := e.Extract(strings.Join(words, " "), nil)

	want := []string{"alpha", "bravo", "charlie"}
	if !reflect.DeepEqual(got.Keywords, want) {
		t.Errorf("Keywords = %v, want %v", got.Keywords, want)
	}
}

func TestExtract_DropsShortTokensAndPunctuation(t *testing.T) {
	e := NewExtractor(0)
	got := e.Extract("ok! x -- let's ship v2, now...", nil)

	want := []string{"ok", "let", "ship", "v2", "now"}
	if !reflect.DeepEqual(got.Keywords, want) {
		t.Errorf("Keywords = %v, want %v", got.Keywords, want)
	}
}

func TestExtract_Mentions(t *testing.T) {
	e := NewExtractor(0)
	participants := []Participant{
		{ID: "u1", Name: "Alice"},
		{ID: "u2", Name: "Bob", Aliases: []string{"bobby"}},
		{ID: "u3", Name: "Carol"},
	}
	got := e.Extract("Ping Alice and bobby about the rollout", participants)

	want := []string{"u1", "u2"}
	if !reflect.DeepEqual(got.Mentions, want) {
		t.Errorf("Mentions = %v, want %v", got.Mentions, want)
	}
}

func TestExtract_MultiWordNameMatchesAsSubstring(t *testing.T) {
	e := NewExtractor(0)
	participants := []Participant{
		{ID: "u1", Name: "Jane Doe"},
		{ID: "u2", Name: "John Roe"},
	}
	got := e.Extract("jane doe approved the budget", participants)

	want := []string{"u1"}
	if !reflect.DeepEqual(got.Mentions, want) {
		t.Errorf("Mentions = %v, want %v", got.Mentions, want)
	}
}

func TestExtract_MentionedOncePerParticipant(t *testing.T) {
	e := NewExtractor(0)
	participants := []Participant{
		{ID: "u1", Name: "Alice", Aliases: []string{"al"}},
	}
	got := e.Extract("alice al alice", participants)

	if len(got.Mentions) != 1 || got.Mentions[0] != "u1" {
		t.Errorf("Mentions = %v, want [u1]", got.Mentions)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := NewExtractor(0)
	participants := []Participant{
		{ID: "u1", Name: "Alice"},
		{ID: "u2", Name: "Bob"},
	}
	const text = "Alice and Bob decided to use Stripe for payments"

	first := e.Extract(text, participants)
	for i := 0; i < 5; i++ {
		again := e.Extract(text, participants)
		if !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d = %+v, first = %+v", i, again, first)
		}
	}
}

func TestExtract_EmptyText(t *testing.T) {
	e := NewExtractor(0)
	got := e.Extract("", []Participant{{ID: "u1", Name: "Alice"}})
	if len(got.Keywords) != 0 || len(got.Mentions) != 0 {
		t.Errorf("Extract(\"\") = %+v, want empty", got)
	}
}
