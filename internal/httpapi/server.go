// Package httpapi exposes the search engine over HTTP: the search, plan and
// finalize operations, health probes, and the Prometheus scrape route.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"precedent/internal/cache"
	"precedent/internal/config"
	"precedent/internal/metrics"
	"precedent/internal/pipeline"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

// Engine is the pipeline surface the handlers consume.
type Engine interface {
	Search(ctx context.Context, query string, opts pipeline.Options) (*types.SearchResponse, error)
	Plan(ctx context.Context, query string) (*pipeline.PlanResult, error)
	Finalize(ctx context.Context, query string, candidates []types.CaseCandidate, opts pipeline.Options) (*types.SearchResponse, error)
}

// Server routes requests to one engine. The shared cache backs the per-IP
// rate limit so replicas see one counter; pinger may be nil when no model
// is configured.
type Server struct {
	cfg    config.Config
	engine Engine
	shared cache.Cache
	pinger reasoner.Pinger
	log    *zap.Logger
	now    func() time.Time
}

func NewServer(cfg config.Config, engine Engine, shared cache.Cache, pinger reasoner.Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		shared: shared,
		pinger: pinger,
		log:    log.Named("http"),
		now:    time.Now,
	}
}

// Router assembles the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/api/search", s.rateLimited(s.handleSearch))
	r.Post("/api/search/plan", s.rateLimited(s.handlePlan))
	r.Post("/api/search/finalize", s.rateLimited(s.handleFinalize))
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/health/bedrock", s.handleBedrockHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("elapsedMs", time.Since(start).Milliseconds()))
	})
}

// rateLimited enforces the per-IP sliding bucket. The counter lives in the
// shared cache; when the cache is down the limiter fails open so a cache
// outage cannot take search down with it.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := s.cfg.RateLimit.SearchIPLimit
		window := s.cfg.RateLimit.SearchIPWindow
		if limit <= 0 || window <= 0 {
			next(w, r)
			return
		}

		windowSec := int64(window / time.Second)
		bucket := s.now().Unix() / windowSec
		key := fmt.Sprintf("search:plan:rl:%d:%s", bucket, ipHash(r.RemoteAddr))

		n, err := s.shared.Increment(r.Context(), key, window)
		if err != nil {
			s.log.Warn("rate limit counter unavailable", zap.Error(err))
			next(w, r)
			return
		}
		if n > int64(limit) {
			metrics.ObserveRateLimited()
			retryMs := (bucket+1)*windowSec*1000 - s.now().UnixMilli()
			if retryMs < 0 {
				retryMs = 0
			}
			w.Header().Set("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:        "rate limit exceeded",
				RetryAfterMs: retryMs,
			})
			return
		}
		next(w, r)
	}
}

// ipHash keys the limiter without storing raw addresses.
func ipHash(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])[:12]
}
