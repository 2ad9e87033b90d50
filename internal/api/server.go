// Package api exposes the HTTP interface for the trainwatch service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reachrl/trainwatch/internal/config"
	"github.com/reachrl/trainwatch/internal/metrics"
	"github.com/reachrl/trainwatch/internal/monitor"
	"github.com/reachrl/trainwatch/internal/progress"
	"github.com/reachrl/trainwatch/internal/publisher"
	"github.com/reachrl/trainwatch/internal/run"
	"github.com/reachrl/trainwatch/internal/storage"
	"github.com/reachrl/trainwatch/internal/store"
)

// Server wires HTTP handlers to the run store, monitor registry, and
// progress hub.
type Server struct {
	router   chi.Router
	repo     store.RunRepository
	blobs    storage.BlobStore
	emitter  progress.Emitter
	notifier publisher.Publisher
	trackers *monitor.Registry
	idGen    run.IDGenerator
	clock    run.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	repo store.RunRepository,
	blobs storage.BlobStore,
	emitter progress.Emitter,
	notifier publisher.Publisher,
	trackers *monitor.Registry,
	idGen run.IDGenerator,
	clock run.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		repo:     repo,
		blobs:    blobs,
		emitter:  emitter,
		notifier: notifier,
		trackers: trackers,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}

	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.ServerTimeout()))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.createRun)
			r.Get("/", s.listRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/progress", s.getProgress)
				r.Post("/episodes", s.appendEpisode)
				r.Post("/heartbeat", s.heartbeat)
				r.Post("/evaluations", s.recordEvaluation)
				r.Post("/artifacts", s.uploadArtifact)
				r.Post("/complete", s.completeRun)
				r.Post("/fail", s.failRun)
				r.Post("/cancel", s.cancelRun)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The run store is the only hard dependency; probe it with a cheap list.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.repo.ListRuns(ctx, nil, 1, 0); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// emit forwards an event to the hub when one is wired.
func (s *Server) emit(evt progress.Event) {
	if s.emitter != nil {
		s.emitter.Emit(evt)
	}
}

// notify publishes a milestone message; failures are logged, never surfaced
// to the trainer.
func (s *Server) notify(ctx context.Context, n publisher.Notification) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Publish(ctx, s.cfg.PubSub.TopicName, n); err != nil {
		s.logger.Warn("publish notification failed",
			zap.String("run_id", n.RunID),
			zap.String("kind", n.Kind),
			zap.Error(err),
		)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
