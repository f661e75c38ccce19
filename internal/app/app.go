// Package app builds the caption and chat backends selected in config.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/config"
	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/chat"
	"github.com/raine/image-poet/internal/poet"
)

// Services are the long-lived components shared by the bot, the HTTP API
// and the CLI.
type Services struct {
	Adapter   *caption.Adapter
	Captioner caption.Captioner
	Completer chat.Completer
	Analyzer  *poet.Analyzer
	Composer  *poet.Composer
}

// NewServices creates the backends named in cfg and loads the caption
// model. When cache is non-nil captions are cached there.
func NewServices(ctx context.Context, cfg *config.Config, cache caption.CacheStore) (*Services, error) {
	backend, err := newCaptionBackend(cfg)
	if err != nil {
		return nil, err
	}
	adapter := caption.NewAdapter(backend)
	if err := adapter.Load(ctx); err != nil {
		return nil, err
	}

	var captioner caption.Captioner = adapter
	if cache != nil {
		captioner = caption.NewCachedCaptioner(adapter, cache)
		log.Info().Msg("caption caching enabled")
	}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("caption", backend.Name()).
		Str("chat", cfg.ChatBackend).
		Msg("backends initialized")

	return &Services{
		Adapter:   adapter,
		Captioner: captioner,
		Completer: completer,
		Analyzer:  poet.NewAnalyzer(captioner, completer),
		Composer:  poet.NewComposer(completer),
	}, nil
}

func newCaptionBackend(cfg *config.Config) (caption.Backend, error) {
	switch cfg.CaptionBackend {
	case config.CaptionBackendOllama:
		return caption.NewOllamaBackend(cfg.CaptionModel)
	case config.CaptionBackendGemini:
		return caption.NewGeminiBackend(cfg.GeminiAPIKey, cfg.CaptionModel), nil
	}
	return nil, fmt.Errorf("unknown caption backend %q", cfg.CaptionBackend)
}

func newCompleter(ctx context.Context, cfg *config.Config) (chat.Completer, error) {
	switch cfg.ChatBackend {
	case config.ChatBackendGemini:
		return chat.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.ChatModel, "")
	case config.ChatBackendZhipu:
		if cfg.ZhipuAPIKey == "" {
			return nil, fmt.Errorf("ZHIPU_API_KEY is not set")
		}
		return chat.NewZhipuClient(chat.ZhipuOpts{APIKey: cfg.ZhipuAPIKey, Model: cfg.ChatModel}), nil
	}
	return nil, fmt.Errorf("unknown chat backend %q", cfg.ChatBackend)
}
