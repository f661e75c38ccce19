package caption

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
)

const DefaultOllamaModel = "llava"

// OllamaBackend captions images with a vision model served by a local
// Ollama runtime. The runtime picks the compute device (GPU with reduced
// precision weights when available, CPU otherwise).
type OllamaBackend struct {
	client *api.Client
	model  string
}

// NewOllamaBackend creates a backend that talks to the runtime at
// OLLAMA_HOST (default http://127.0.0.1:11434).
func NewOllamaBackend(model string) (*OllamaBackend, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewOllamaBackendWithClient(client, model), nil
}

// NewOllamaBackendWithClient creates a backend using an existing client.
func NewOllamaBackendWithClient(client *api.Client, model string) *OllamaBackend {
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaBackend{client: client, model: model}
}

func (o *OllamaBackend) Name() string { return "ollama" }

// keepLoaded keeps the model resident for the life of the runtime.
var keepLoaded = &api.Duration{Duration: -1}

// Load checks that the model exists and loads it into memory. An empty
// generate request makes the runtime load the weights without producing
// any tokens.
func (o *OllamaBackend) Load(ctx context.Context) error {
	if _, err := o.client.Show(ctx, &api.ShowRequest{Model: o.model}); err != nil {
		return fmt.Errorf("model %s is not available: %w", o.model, err)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:     o.model,
		Stream:    &stream,
		KeepAlive: keepLoaded,
	}
	if err := o.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil }); err != nil {
		return fmt.Errorf("failed to load model %s: %w", o.model, err)
	}
	return nil
}

func (o *OllamaBackend) Generate(ctx context.Context, img *Image, prompt string) (*Generation, error) {
	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{{
			Role:    "user",
			Content: prompt,
			Images:  []api.ImageData{img.Data},
		}},
		Stream:    &stream,
		KeepAlive: keepLoaded,
		Options: map[string]any{
			"temperature": 0,
			"top_k":       1,
			"seed":        Seed,
			"num_predict": MaxNewTokens,
		},
	}

	var text strings.Builder
	gen := &Generation{Model: o.model}
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Done {
			gen.Usage.InputTokens = int64(resp.PromptEvalCount)
			gen.Usage.OutputTokens = int64(resp.EvalCount)
			gen.Usage.TotalTokens = gen.Usage.InputTokens + gen.Usage.OutputTokens
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}
	gen.Text = text.String()
	return gen, nil
}
