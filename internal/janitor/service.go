package janitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PruneInterval is the time between prune cycles.
const PruneInterval = 24 * time.Hour

// CachePruner removes cached captions older than a given age.
type CachePruner interface {
	PruneCaptionCache(olderThan time.Duration) (int64, error)
}

// Service periodically prunes the caption cache.
type Service struct {
	store    CachePruner
	maxAge   time.Duration
	interval time.Duration
}

// NewService creates a janitor that drops cache entries older than maxAge.
func NewService(store CachePruner, maxAge time.Duration) *Service {
	return &Service{
		store:    store,
		maxAge:   maxAge,
		interval: PruneInterval,
	}
}

// WithInterval overrides PruneInterval.
func (s *Service) WithInterval(interval time.Duration) *Service {
	s.interval = interval
	return s
}

// Run prunes once immediately and then every interval. It blocks until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Dur("maxAge", s.maxAge).Msg("starting caption cache janitor")

	s.prune()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("caption cache janitor stopped")
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Service) prune() {
	pruned, err := s.store.PruneCaptionCache(s.maxAge)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune caption cache")
		return
	}
	if pruned > 0 {
		log.Info().Int64("entries", pruned).Msg("pruned caption cache")
	}
}
