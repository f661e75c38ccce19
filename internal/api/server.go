// Package api exposes the image → keywords → poem flow over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/raine/image-poet/internal/caption"
	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/poet"
	"github.com/raine/image-poet/internal/storage"
)

const (
	// sessionIdleTTL is how long an untouched session is kept.
	sessionIdleTTL = time.Hour
	maxUploadSize  = 10 << 20
)

// PoemStore is the part of storage.Store the API uses.
type PoemStore interface {
	SavePoem(poem *storage.Poem) (*storage.Poem, error)
	GetPoem(id string) (*storage.Poem, error)
	ListPoems(userID int64, limit int) ([]storage.Poem, error)
}

// Server holds the HTTP handlers and the per-client pipelines.
type Server struct {
	captioner caption.Captioner
	analyzer  *poet.Analyzer
	composer  *poet.Composer
	store     PoemStore

	// ctx is handed to background operations so they stop on shutdown.
	ctx context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id       string
	pipeline *poet.Pipeline

	mu      sync.Mutex
	lastErr error
	touched time.Time
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func NewServer(ctx context.Context, captioner caption.Captioner, analyzer *poet.Analyzer, composer *poet.Composer, store PoemStore) *Server {
	return &Server{
		captioner: captioner,
		analyzer:  analyzer,
		composer:  composer,
		store:     store,
		ctx:       ctx,
		sessions:  make(map[string]*session),
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.MaxMultipartMemory = maxUploadSize

	router.GET("/health", s.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/caption", s.Caption)
		api.POST("/sessions", s.CreateSession)
		api.GET("/sessions/:id", s.GetSession)
		api.POST("/sessions/:id/analyze", s.Analyze)
		api.POST("/sessions/:id/compose", s.Compose)
		api.DELETE("/sessions/:id", s.DeleteSession)
		api.GET("/poems", s.ListPoems)
		api.GET("/poems/:id", s.GetPoem)
	}
	return router
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) newSession() *session {
	sess := &session{
		id:       uuid.New().String(),
		pipeline: poet.NewPipeline(s.analyzer, s.composer),
		touched:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.sessions[sess.id] = sess
	return sess
}

func (s *Server) getSession(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.touched = time.Now()
	}
	return sess, ok
}

// pruneLocked drops idle sessions with nothing in flight.
func (s *Server) pruneLocked() {
	cutoff := time.Now().Add(-sessionIdleTTL)
	for id, sess := range s.sessions {
		if sess.touched.Before(cutoff) && !sess.pipeline.State().InFlight() {
			delete(s.sessions, id)
		}
	}
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.KindInvalidRequest:
		return http.StatusBadRequest
	case failure.KindBusy:
		return http.StatusConflict
	case failure.KindNotInitialized:
		return http.StatusServiceUnavailable
	case failure.KindRemoteServiceFailure, failure.KindMalformedResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithFailure(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"error": err.Error(),
		"kind":  failure.KindOf(err).String(),
	})
}
