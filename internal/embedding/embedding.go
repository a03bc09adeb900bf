// Package embedding computes text embeddings through an OpenAI-compatible
// /embeddings endpoint (Ollama, vLLM, OpenAI).
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/mohammad-safakhou/svat/internal/helpers"
)

// Config configures the embedding client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retries int
}

// OpenAI implements eino's embedding.Embedder.
type OpenAI struct {
	http    *helpers.HTTPClient
	baseURL string
	apiKey  string
	model   string
}

var _ embedding.Embedder = (*OpenAI)(nil)

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAI{
		http:    helpers.NewHTTPClient(cfg.Timeout, cfg.Retries, 0),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAI) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := e.model
	o := embedding.GetCommonOptions(&embedding.Options{Model: &model}, opts...)
	if o.Model != nil && *o.Model != "" {
		model = *o.Model
	}

	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}
	var resp embeddingResponse
	if err := e.http.DoJSON(ctx, http.MethodPost, e.baseURL+"/embeddings", headers, embeddingRequest{Input: texts, Model: model}, &resp); err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// ToFloat32 narrows vectors for storage.
func ToFloat32(vectors [][]float64) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		f := make([]float32, len(v))
		for j, x := range v {
			f[j] = float32(x)
		}
		out[i] = f
	}
	return out
}
