package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"precedent/internal/cache"
	"precedent/internal/config"
	"precedent/internal/lexicon"
	"precedent/internal/pipeline"
	"precedent/internal/provider"
	"precedent/internal/ranking"
	"precedent/internal/reasoner"
	"precedent/internal/recall"
)

// recallMaxAge bounds how old a stale-fallback entry may be and still serve.
const recallMaxAge = 24 * time.Hour

// app bundles the wired runtime. Close releases the redis connection and the
// sqlite handle when those backends are active.
type app struct {
	cfg    config.Config
	holder *lexicon.Holder
	shared cache.Cache
	engine *pipeline.Engine
	pinger reasoner.Pinger

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// buildApp wires config into a ready engine. A missing model or an
// unreachable redis leaves the engine on its degraded paths instead of
// failing startup; a broken lexicon overlay or recall database fails loudly.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	holder, err := buildLexicon()
	if err != nil {
		return nil, err
	}
	a.holder = holder

	a.shared = buildCache(ctx, cfg, a)

	rec, err := buildRecall(cfg, a.shared, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, pinger := buildModel(ctx, cfg)
	a.pinger = pinger

	a.engine = pipeline.New(cfg, pipeline.Deps{
		Lexicon:  holder,
		Cache:    a.shared,
		Provider: buildProvider(cfg, a.shared),
		Model:    model,
		Recall:   rec,
		Weights:  ranking.DefaultWeights(),
		Logger:   logger,
	})
	return a, nil
}

func buildLexicon() (*lexicon.Holder, error) {
	base := lexicon.Default()
	if lexiconOverlay == "" {
		return lexicon.NewHolder(base), nil
	}
	overlay, err := lexicon.LoadOverlay(lexiconOverlay)
	if err != nil {
		return nil, fmt.Errorf("load lexicon overlay: %w", err)
	}
	merged, err := base.Merge(overlay)
	if err != nil {
		return nil, fmt.Errorf("merge lexicon overlay: %w", err)
	}
	return lexicon.NewHolder(merged), nil
}

func buildCache(ctx context.Context, cfg config.Config, a *app) cache.Cache {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemory()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	a.closers = append(a.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, shared cache will degrade",
			zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
	}
	return cache.NewRedis(client, logger)
}

func buildRecall(cfg config.Config, shared cache.Cache, a *app) (recall.Store, error) {
	if cfg.Cache.RecallDBPath == "" {
		return recall.NewCacheStore(shared, recallMaxAge, logger), nil
	}
	st, err := recall.OpenSQLite(cfg.Cache.RecallDBPath, recallMaxAge, logger)
	if err != nil {
		return nil, fmt.Errorf("open recall store: %w", err)
	}
	a.closers = append(a.closers, st.Close)
	return st, nil
}

// buildModel returns a nil client outside initial mode or when credentials
// are missing; the orchestrator records the skip and plans deterministically.
func buildModel(ctx context.Context, cfg config.Config) (reasoner.ModelClient, reasoner.Pinger) {
	if cfg.Reasoner.Mode != config.ReasonerModeInitial {
		return nil, nil
	}
	client, err := reasoner.NewBedrockClient(ctx, cfg.Reasoner)
	if err != nil {
		logger.Warn("bedrock client unavailable, planning degrades to deterministic",
			zap.Error(err))
		return nil, nil
	}
	return client, client
}

func buildProvider(cfg config.Config, shared cache.Cache) provider.Provider {
	if cfg.Retrieval.SerperEnabled && cfg.Retrieval.SerperAPIKey != "" {
		return provider.NewSerper(cfg.Retrieval, logger)
	}
	return provider.NewKanoon(cfg.Retrieval, shared, logger)
}
