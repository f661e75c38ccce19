package caption

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini 2.5 Flash pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.30
	geminiOutputPricePerMillion = 2.50
)

// GeminiBackend captions images with Google's Gemini API.
type GeminiBackend struct {
	apiKey  string
	model   string
	baseURL string
	client  *genai.Client
}

// NewGeminiBackend creates a Gemini backend. The client is created in Load.
func NewGeminiBackend(apiKey, model string) *GeminiBackend {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiBackend{apiKey: apiKey, model: model}
}

// WithBaseURL overrides the API endpoint.
func (g *GeminiBackend) WithBaseURL(baseURL string) *GeminiBackend {
	g.baseURL = baseURL
	return g
}

func (g *GeminiBackend) Name() string { return "gemini" }

func (g *GeminiBackend) Load(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      g.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return nil
}

func (g *GeminiBackend) Generate(ctx context.Context, img *Image, prompt string) (*Generation, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType}},
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		CandidateCount:  1,
		MaxOutputTokens: MaxNewTokens,
		Seed:            genai.Ptr[int32](Seed),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini")
	}

	gen := &Generation{Text: result.Text(), Model: g.model}
	if result.UsageMetadata != nil {
		gen.Usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		gen.Usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		gen.Usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		gen.Usage.CostUSD = calculateGeminiCost(gen.Usage.InputTokens, gen.Usage.OutputTokens)
	}
	return gen, nil
}

func calculateGeminiCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * geminiInputPricePerMillion
	outputCost := float64(outputTokens) / 1_000_000 * geminiOutputPricePerMillion
	return inputCost + outputCost
}
