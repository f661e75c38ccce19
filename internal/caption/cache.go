package caption

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// CacheStore persists generated captions by key.
type CacheStore interface {
	// GetCaptionCache returns "", nil when key is not cached.
	GetCaptionCache(key string) (string, error)
	SetCaptionCache(key string, task string, text string) error
}

// CachedCaptioner wraps a Captioner with a persistent cache so that the
// same photo is only captioned once per task.
type CachedCaptioner struct {
	inner Captioner
	store CacheStore
}

// NewCachedCaptioner creates a cached captioner.
func NewCachedCaptioner(inner Captioner, store CacheStore) *CachedCaptioner {
	return &CachedCaptioner{inner: inner, store: store}
}

// cacheKey combines the image hash with the task and any extra text.
func cacheKey(img *Image, task Task, extraText string) string {
	h := sha256.New()
	h.Write([]byte(img.Hash()))
	h.Write([]byte{0})
	h.Write([]byte(task))
	h.Write([]byte{0})
	h.Write([]byte(extraText))
	return hex.EncodeToString(h.Sum(nil))
}

// Caption implements Captioner with caching.
func (c *CachedCaptioner) Caption(ctx context.Context, img *Image, task Task, extraText string) (Result, error) {
	if img == nil || c.store == nil {
		return c.inner.Caption(ctx, img, task, extraText)
	}

	key := cacheKey(img, task, extraText)

	cached, err := c.store.GetCaptionCache(key)
	if err != nil {
		log.Warn().Err(err).Msg("failed to check caption cache")
	} else if cached != "" {
		log.Debug().Str("key", key[:16]).Str("task", string(task)).Msg("caption cache hit")
		return Result{task: cached}, nil
	}

	result, err := c.inner.Caption(ctx, img, task, extraText)
	if err != nil {
		return nil, err
	}

	if text := result.Text(task); text != "" {
		if err := c.store.SetCaptionCache(key, string(task), text); err != nil {
			log.Warn().Err(err).Msg("failed to cache caption")
		} else {
			log.Debug().Str("key", key[:16]).Msg("cached caption")
		}
	}

	return result, nil
}
