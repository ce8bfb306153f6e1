// Package api exposes allocation runs over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/herdline/breeding-cli/internal/config"
	"github.com/herdline/breeding-cli/internal/jobs"
	"github.com/herdline/breeding-cli/internal/monitoring"
	"github.com/herdline/breeding-cli/internal/store"
)

// Server holds the handler dependencies. Store, Metrics and Collector are
// optional.
type Server struct {
	cfg       *config.Config
	jobs      *jobs.Manager
	store     store.Store
	metrics   *monitoring.Metrics
	collector *monitoring.Collector
	limiter   *rate.Limiter
}

// Options wires the optional dependencies of a Server.
type Options struct {
	Store     store.Store
	Metrics   *monitoring.Metrics
	Collector *monitoring.Collector
}

// NewServer creates a Server. Run submissions are limited to
// cfg.Server.SubmitRate per second with bursts of cfg.Server.SubmitBurst.
func NewServer(cfg *config.Config, mgr *jobs.Manager, opts Options) *Server {
	return &Server{
		cfg:       cfg,
		jobs:      mgr,
		store:     opts.Store,
		metrics:   opts.Metrics,
		collector: opts.Collector,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Server.SubmitRate), max(cfg.Server.SubmitBurst, 1)),
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.collector != nil {
		r.Get("/stats", s.handleStats)
	}

	r.Route("/runs", func(r chi.Router) {
		r.With(s.limitSubmissions).Post("/", s.handleSubmit)
		r.Get("/", s.handleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Delete("/", s.handleCancelRun)
			r.Get("/assignments", s.handleAssignments)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := s.cfg.Monitoring.LookbackWindowHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
			return
		}
		hours = n
	}
	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) limitSubmissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many run submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
