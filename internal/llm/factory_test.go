package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/models"
)

type echoModel struct{}

func (echoModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("echo: "+in[len(in)-1].Content, nil), nil
}

func (echoModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestCheckModel(t *testing.T) {
	allowed := []string{"llama3.1:8b", "phi"}
	if err := CheckModel(allowed, "phi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := CheckModel(allowed, "gpt-4")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.Error() != "Invalid model name. Choose from: llama3.1:8b, phi" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := CheckModel(nil, ""); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestFactoryRejectsUnknownModel(t *testing.T) {
	f := &OpenAIFactory{BaseURL: "http://localhost:11434/v1", Allowed: []string{"phi"}}
	if _, err := f.NewChatModel(context.Background(), models.ModelOptions{Name: "mixtral"}); err == nil {
		t.Fatalf("expected rejection")
	}
}

func TestComplete(t *testing.T) {
	out, err := Complete(context.Background(), echoModel{}, "hello")
	if err != nil || out != "echo: hello" {
		t.Fatalf("Complete: %q %v", out, err)
	}
}

// chatHost answers OpenAI chat completions and records each request body.
func chatHost(t *testing.T, bodies *[]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		*bodies = append(*bodies, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","created":1,"model":"phi",
"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFactoryForwardsTemperature(t *testing.T) {
	var bodies []map[string]any
	srv := chatHost(t, &bodies)
	f := &OpenAIFactory{BaseURL: srv.URL, APIKey: "x", Allowed: []string{"phi"}}
	ctx := context.Background()

	for _, opts := range []models.ModelOptions{
		{Name: "phi", Temperature: models.Float64(0)},
		{Name: "phi", Temperature: models.Float64(0.5)},
		{Name: "phi"},
	} {
		m, err := f.NewChatModel(ctx, opts)
		if err != nil {
			t.Fatalf("new chat model: %v", err)
		}
		if out, err := Complete(ctx, m, "hi"); err != nil || out != "ok" {
			t.Fatalf("complete: %q %v", out, err)
		}
	}
	if len(bodies) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(bodies))
	}
	if got, ok := bodies[0]["temperature"]; !ok || got.(float64) != 0 {
		t.Fatalf("explicit zero temperature not sent: %v", bodies[0])
	}
	if got, ok := bodies[1]["temperature"]; !ok || got.(float64) != 0.5 {
		t.Fatalf("temperature 0.5 not sent: %v", bodies[1])
	}
	if _, ok := bodies[2]["temperature"]; ok {
		t.Fatalf("unset temperature should be omitted: %v", bodies[2])
	}
}
