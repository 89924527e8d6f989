// Package embedding turns message text into vectors. Providers implement
// Client; Retrying composes a provider with the retry policy and the
// dependency's circuit breaker.
package embedding

import "context"

// Client produces embedding vectors. Embed returns a vector of exactly
// Dimensions() elements for non-empty text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
