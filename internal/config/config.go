// Package config builds the immutable runtime configuration from the
// environment. Parsing happens in a single fallible stage at startup; every
// numeric knob is clamped to a safe range so a hostile or fat-fingered
// environment cannot push the engine outside its operating envelope. Each
// subsystem receives only the subset it needs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration. Built once by Load and treated
// as immutable afterwards.
type Config struct {
	Pipeline    PipelineConfig
	Reasoner    ReasonerConfig
	Proposition PropositionConfig
	Guarantee   GuaranteeConfig
	Retrieval   RetrievalConfig
	RateLimit   RateLimitConfig
	Cache       CacheConfig
	Server      ServerConfig
}

// PipelineConfig bounds one request end to end.
type PipelineConfig struct {
	// MaxElapsed is the hard wall-clock budget for a request.
	MaxElapsed time.Duration
	// VerifyLimit caps second-stage detail fetches per request.
	VerifyLimit int
	// GlobalBudget caps scheduler attempts per request.
	GlobalBudget int
}

// RateLimitConfig is the per-client-IP sliding bucket at the HTTP surface.
type RateLimitConfig struct {
	SearchIPLimit  int
	SearchIPWindow time.Duration
}

// CacheConfig selects the shared-cache backend and the recall store path.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string
	RedisAddr string
	// RecallDBPath enables the durable sqlite recall store when non-empty;
	// otherwise stale-fallback recall rides the shared cache.
	RecallDBPath string
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// Load builds the configuration from the environment. It is the single
// fallible parse stage: malformed values fail loudly here, out-of-range
// values are clamped silently.
func Load() (Config, error) {
	p := newParser()
	cfg := Config{
		Pipeline: PipelineConfig{
			MaxElapsed:   p.durationMs("PIPELINE_MAX_ELAPSED_MS", 9000, 5000, 60000),
			VerifyLimit:  p.int("DEFAULT_VERIFY_LIMIT", 6, 4, 24),
			GlobalBudget: p.int("DEFAULT_GLOBAL_BUDGET", 14, 4, 60),
		},
		Reasoner:    loadReasoner(p),
		Proposition: loadProposition(p),
		Guarantee:   loadGuarantee(p),
		Retrieval:   loadRetrieval(p),
		RateLimit: RateLimitConfig{
			SearchIPLimit:  p.int("SEARCH_IP_RATE_LIMIT", 12, 1, 600),
			SearchIPWindow: p.durationSec("SEARCH_IP_RATE_WINDOW_SEC", 60, 5, 3600),
		},
		Cache: CacheConfig{
			Backend:      p.enum("CACHE_BACKEND", "memory", "memory", "redis"),
			RedisAddr:    p.str("REDIS_ADDR", "localhost:6379"),
			RecallDBPath: p.str("RECALL_DB_PATH", ""),
		},
		Server: ServerConfig{
			Addr:           p.str("HTTP_ADDR", ":8080"),
			AllowedOrigins: p.list("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		},
	}
	if err := p.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Parser
// -----------------------------------------------------------------------------

// parser accumulates malformed-value errors so Load can report them together.
type parser struct {
	errs []error
}

func newParser() *parser { return &parser{} }

func (p *parser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return errors.Join(p.errs...)
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) list(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (p *parser) enum(key, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	p.errs = append(p.errs, fmt.Errorf("%s: %q not in %v", key, v, allowed))
	return def
}

func (p *parser) int(key string, def, lo, hi int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return clampInt(def, lo, hi)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return clampInt(def, lo, hi)
	}
	return clampInt(n, lo, hi)
}

func (p *parser) float(key string, def, lo, hi float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return clampFloat(def, lo, hi)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return clampFloat(def, lo, hi)
	}
	return clampFloat(f, lo, hi)
}

func (p *parser) bool(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
	return def
}

// durationMs parses a millisecond knob with clamp bounds in milliseconds.
func (p *parser) durationMs(key string, def, lo, hi int) time.Duration {
	return time.Duration(p.int(key, def, lo, hi)) * time.Millisecond
}

// durationSec parses a second knob with clamp bounds in seconds.
func (p *parser) durationSec(key string, def, lo, hi int) time.Duration {
	return time.Duration(p.int(key, def, lo, hi)) * time.Second
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func clampFloat(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
