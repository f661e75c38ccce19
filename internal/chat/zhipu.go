package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/metrics"
)

const (
	ZhipuBaseURL      = "https://open.bigmodel.cn/api/paas/v4"
	DefaultZhipuModel = "glm-4"
)

type zhipuMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type zhipuRequest struct {
	Model    string         `json:"model"`
	Messages []zhipuMessage `json:"messages"`
	Stream   bool           `json:"stream"`
}

type zhipuResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      zhipuMessage `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type zhipuErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type ZhipuOpts struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ZhipuClient calls the Zhipu GLM chat completions endpoint.
type ZhipuClient struct {
	httpClient *resty.Client
	model      string
}

func NewZhipuClient(opts ZhipuOpts) *ZhipuClient {
	baseURL := ZhipuBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	model := DefaultZhipuModel
	if opts.Model != "" {
		model = opts.Model
	}

	c := ZhipuClient{model: model}
	c.httpClient = resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(opts.APIKey).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		})
	return &c
}

// Complete implements Completer. Exactly one request is made.
func (c *ZhipuClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := checkPrompts("chat.zhipu", systemPrompt, userPrompt); err != nil {
		return "", err
	}

	body := zhipuRequest{
		Model: c.model,
		Messages: []zhipuMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	result := &zhipuResponse{}

	start := time.Now()
	_, err := handleError(c.httpClient.
		NewRequest().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&zhipuErrorResponse{}).
		Post("/chat/completions"))
	if err == nil && (len(result.Choices) == 0 || result.Choices[0].Message.Content == "") {
		err = fmt.Errorf("response contained no choices")
	}
	if err != nil {
		err = failure.New(failure.KindRemoteServiceFailure, "chat.zhipu", err)
		metrics.ObserveOperation("chat", err, time.Since(start))
		return "", err
	}
	metrics.ObserveOperation("chat", nil, time.Since(start))

	log.Info().
		Str("model", c.model).
		Int("inputTokens", result.Usage.PromptTokens).
		Int("outputTokens", result.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("chat completion")

	return result.Choices[0].Message.Content, nil
}

// handleError turns failing responses (>399 status code) into errors,
// including the API's own message when it sent one.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		if apiErr, ok := res.Error().(*zhipuErrorResponse); ok && apiErr.Error.Message != "" {
			return res, fmt.Errorf("request failed: %s %s (status: %d): %s",
				res.Request.Method, res.Request.URL, res.StatusCode(), apiErr.Error.Message)
		}
		return res, fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}
