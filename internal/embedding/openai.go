package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaychat/semsearch/internal/fault"
)

// OpenAI generates embeddings through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAI creates an OpenAI client. An empty baseURL targets the public
// API; set it to point at a compatible proxy.
func NewOpenAI(apiKey, baseURL, model string, dims int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dims,
	}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fault.Invalid(errors.New("empty text"))
	}

	rsp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, classifyOpenAI(err)
	}

	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, fault.Transient(errors.New("empty embedding response"))
	}
	vec := rsp.Data[0].Embedding
	if len(vec) != o.dims {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), o.dims)
	}
	return vec, nil
}

func (o *OpenAI) Dimensions() int { return o.dims }

// classifyOpenAI maps go-openai errors onto the fault taxonomy. Typed API
// errors carry the HTTP status; anything else failed on the wire.
func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fault.FromHTTPStatus(apiErr.HTTPStatusCode, err)
	}
	return fault.FromNetwork(err)
}
