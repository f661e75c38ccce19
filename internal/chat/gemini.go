package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/metrics"
)

const DefaultGeminiModel = "gemini-2.5-flash-lite"

// Gemini 2.5 Flash Lite pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.10
	geminiOutputPricePerMillion = 0.40
)

// GeminiCompleter uses Gemini as the chat backend.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGeminiCompleter(ctx context.Context, apiKey, model, baseURL string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (g *GeminiCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := checkPrompts("chat.gemini", systemPrompt, userPrompt); err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(userPrompt)}, genai.RoleUser),
	}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err == nil && (len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0) {
		err = fmt.Errorf("empty response from gemini")
	}
	if err != nil {
		err = failure.New(failure.KindRemoteServiceFailure, "chat.gemini", err)
		metrics.ObserveOperation("chat", err, time.Since(start))
		return "", err
	}
	metrics.ObserveOperation("chat", nil, time.Since(start))

	if result.UsageMetadata != nil {
		input := int64(result.UsageMetadata.PromptTokenCount)
		output := int64(result.UsageMetadata.CandidatesTokenCount)
		log.Info().
			Str("model", g.model).
			Int64("inputTokens", input).
			Int64("outputTokens", output).
			Float64("costUSD", float64(input)/1_000_000*geminiInputPricePerMillion+float64(output)/1_000_000*geminiOutputPricePerMillion).
			Dur("took", time.Since(start)).
			Msg("chat completion")
	}

	return result.Text(), nil
}
