package search

import (
	"sort"
	"time"

	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/vecindex"
)

const (
	defaultSimilarityWeight = 0.8
	defaultRecencyWeight    = 0.2
	defaultRecencyHorizon   = 720 * time.Hour
)

// Weights tune how similarity and recency blend into the final score. The
// blend is a product decision, not a correctness contract, so it stays
// configurable: final = clamp01(similarity)*Similarity + boost*Recency,
// where boost decays linearly from 1 at age zero to 0 at RecencyHorizon.
// Matches whose clamped similarity falls under MinSimilarity are dropped.
type Weights struct {
	Similarity     float64
	Recency        float64
	RecencyHorizon time.Duration
	MinSimilarity  float64
}

func (w Weights) withDefaults() Weights {
	if w.Similarity == 0 && w.Recency == 0 {
		w.Similarity = defaultSimilarityWeight
		w.Recency = defaultRecencyWeight
	}
	if w.RecencyHorizon <= 0 {
		w.RecencyHorizon = defaultRecencyHorizon
	}
	return w
}

// rank joins matches with their records, scores them, and orders the
// result deterministically: score descending, then newer CreatedAt, then
// lexical ID. Matches without a record (the message was deleted after the
// index answered) are dropped.
func (w Weights) rank(matches []vecindex.Match, records []messages.MessageRecord, now time.Time) []Result {
	byID := make(map[string]messages.MessageRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		rec, ok := byID[m.ID]
		if !ok {
			continue
		}
		sim := clamp01(m.Similarity)
		if sim < w.MinSimilarity {
			continue
		}
		out = append(out, Result{
			Message:    rec,
			Similarity: sim,
			Score:      sim*w.Similarity + w.recencyBoost(now.Sub(rec.CreatedAt))*w.Recency,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Message.CreatedAt.Equal(out[j].Message.CreatedAt) {
			return out[i].Message.CreatedAt.After(out[j].Message.CreatedAt)
		}
		return out[i].Message.ID < out[j].Message.ID
	})
	return out
}

func (w Weights) recencyBoost(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if age >= w.RecencyHorizon {
		return 0
	}
	return 1 - float64(age)/float64(w.RecencyHorizon)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
