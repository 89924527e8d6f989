package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/relaychat/semsearch/internal/fault"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama generates embeddings through a local Ollama instance.
type Ollama struct {
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client
}

// NewOllama creates an Ollama client. An empty baseURL targets the default
// local instance.
func NewOllama(baseURL, model string, dims int) *Ollama {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
}

// embedRequest is the JSON body for POST /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the JSON returned by POST /api/embed.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fault.Invalid(errors.New("empty text"))
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.FromNetwork(fmt.Errorf("embed request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromHTTPStatus(resp.StatusCode, fmt.Errorf("embed: unexpected status %d", resp.StatusCode))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fault.Transient(fmt.Errorf("decoding embed response: %w", err))
	}

	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fault.Transient(errors.New("embed: empty embeddings array"))
	}
	vec := result.Embeddings[0]
	if len(vec) != c.dims {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), c.dims)
	}
	return vec, nil
}

func (c *Ollama) Dimensions() int { return c.dims }
