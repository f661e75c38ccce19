package caption

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Adapter owns one loaded Backend for the lifetime of the process.
// Generations are serialized.
type Adapter struct {
	backend Backend

	loadOnce sync.Once
	loadErr  error
	loaded   bool
	mu       sync.Mutex
}

// NewAdapter wraps backend. Load must be called before Caption.
func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend}
}

// Load initializes the backend. Subsequent calls return the first result.
func (a *Adapter) Load(ctx context.Context) error {
	a.loadOnce.Do(func() {
		start := time.Now()
		if err := a.backend.Load(ctx); err != nil {
			a.loadErr = failure.New(failure.KindNotInitialized, "caption.load", err)
			return
		}
		a.mu.Lock()
		a.loaded = true
		a.mu.Unlock()
		log.Info().
			Str("backend", a.backend.Name()).
			Dur("took", time.Since(start)).
			Msg("caption model loaded")
	})
	return a.loadErr
}

// Caption implements Captioner.
func (a *Adapter) Caption(ctx context.Context, img *Image, task Task, extraText string) (Result, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, failure.Newf(failure.KindInvalidRequest, "caption", "no image")
	}
	if !task.Valid() {
		return nil, failure.Newf(failure.KindInvalidRequest, "caption", "unknown task %q", task)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		return nil, failure.New(failure.KindNotInitialized, "caption", errors.New("model not loaded"))
	}

	start := time.Now()
	gen, err := a.backend.Generate(ctx, img, task.Prompt(extraText))
	metrics.ObserveOperation("caption", err, time.Since(start))
	if err != nil {
		return nil, failure.New(failure.KindInferenceFailure, "caption", err)
	}

	text := cleanGeneratedText(gen.Text, task)
	if text == "" {
		return nil, failure.New(failure.KindInferenceFailure, "caption", errors.New("model returned an empty caption"))
	}

	log.Info().
		Str("backend", a.backend.Name()).
		Str("model", gen.Model).
		Str("task", string(task)).
		Int64("inputTokens", gen.Usage.InputTokens).
		Int64("outputTokens", gen.Usage.OutputTokens).
		Float64("costUSD", gen.Usage.CostUSD).
		Dur("took", time.Since(start)).
		Msg("caption generated")

	return Result{task: text}, nil
}
