package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/articles"
	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/failures"
	"github.com/JakeFAU/newshub-crawler/internal/jobs"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
	"github.com/JakeFAU/newshub-crawler/internal/stats"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// JobService starts, controls and reads crawl jobs.
type JobService interface {
	Start(ctx context.Context, websiteID string, cfg crawler.JobConfig) (crawler.JobSnapshot, error)
	StartAll(ctx context.Context, cfg crawler.JobConfig) ([]jobs.StartResult, error)
	Control(ctx context.Context, jobID string, action jobs.Action) (crawler.JobSnapshot, error)
	Get(ctx context.Context, jobID string) (crawler.JobSnapshot, error)
	List(ctx context.Context, filter store.JobFilter) ([]crawler.JobSnapshot, int, error)
}

// ArticleService reads stored articles.
type ArticleService interface {
	Get(ctx context.Context, id string) (crawler.Article, error)
	GetByURL(ctx context.Context, rawURL string) (crawler.Article, error)
	List(ctx context.Context, filter store.ArticleFilter) (articles.Page, error)
}

// ErrorService reads and resolves scraping errors.
type ErrorService interface {
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]crawler.ScrapingError, error)
	Recent(ctx context.Context, limit int) ([]crawler.ScrapingError, error)
	Summary(ctx context.Context, days int) (failures.Summary, error)
	Resolve(ctx context.Context, id string) (crawler.ScrapingError, error)
}

// StatsService computes dashboard rollups.
type StatsService interface {
	Dashboard(ctx context.Context) (stats.Dashboard, error)
	WebsiteStats(ctx context.Context, websiteID string) (stats.WebsiteStats, error)
	Performance(ctx context.Context, days int) (stats.Performance, error)
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Websites store.WebsiteRepository
	Jobs     JobService
	Articles ArticleService
	Errors   ErrorService
	Stats    StatsService
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	// Ready reports whether downstream dependencies can serve traffic.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Options tune the router.
type Options struct {
	// APIKey enables X-API-Key authentication on /v1 routes when set.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job registry and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/websites", func(r chi.Router) {
			r.Get("/", s.listWebsites)
			r.Post("/", s.createWebsite)
			r.Route("/{website_id}", func(r chi.Router) {
				r.Get("/", s.getWebsite)
				r.Put("/", s.updateWebsite)
				r.Delete("/", s.deleteWebsite)
				r.Get("/categories", s.listCategories)
				r.Post("/categories", s.createCategory)
				r.Get("/stats", s.websiteStats)
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/start", s.startJob)
			r.Post("/start-all", s.startAll)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/control", s.controlJob)
				r.Get("/errors", s.jobErrors)
			})
		})
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.listArticles)
			r.Get("/url/*", s.getArticleByURL)
			r.Get("/{article_id}", s.getArticle)
		})
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/stats", s.dashboard)
			r.Get("/errors", s.recentErrors)
			r.Get("/errors/summary", s.errorSummary)
			r.Get("/performance", s.performance)
		})
		r.Post("/errors/{error_id}/resolve", s.resolveError)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail maps err onto the HTTP error taxonomy and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, jobs.ErrWebsiteBusy),
		errors.Is(err, jobs.ErrNotOwned),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return crawler.Invalidf("invalid JSON: %v", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
