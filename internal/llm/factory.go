// Package llm builds chat models against an OpenAI-compatible host.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/models"
)

// Factory creates chat models for a request's model options.
type Factory interface {
	NewChatModel(ctx context.Context, opts models.ModelOptions) (model.BaseChatModel, error)
}

// OpenAIFactory targets Ollama's /v1 endpoint by default.
type OpenAIFactory struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Allowed []string
}

func (f *OpenAIFactory) NewChatModel(ctx context.Context, opts models.ModelOptions) (model.BaseChatModel, error) {
	if err := CheckModel(f.Allowed, opts.Name); err != nil {
		return nil, err
	}
	cfg := &openai.ChatModelConfig{
		APIKey:  f.APIKey,
		BaseURL: f.BaseURL,
		Model:   opts.Name,
		Timeout: f.Timeout,
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		cfg.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		n := opts.MaxTokens
		cfg.MaxTokens = &n
	}
	m, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model %s: %w", opts.Name, err)
	}
	return m, nil
}

// CheckModel rejects names outside the allow-list. An empty list allows any
// non-empty name.
func CheckModel(allowed []string, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.New(apperr.ErrValidation, "model_name is required")
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if a == name {
			return nil
		}
	}
	return apperr.New(apperr.ErrValidation, "Invalid model name. Choose from: %s", strings.Join(allowed, ", "))
}

// Complete sends a single user prompt and returns the reply text.
func Complete(ctx context.Context, m model.BaseChatModel, prompt string) (string, error) {
	msg, err := m.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", fmt.Errorf("empty model response")
	}
	return msg.Content, nil
}
