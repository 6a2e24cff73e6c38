package recall

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"precedent/internal/cache"
)

const keyPrefix = "recall:"

// CacheStore rides the shared cache. Entries expire by TTL, which doubles as
// the staleness bound: anything still readable is fresh enough to serve.
type CacheStore struct {
	shared cache.Cache
	ttl    time.Duration
	log    *zap.Logger
}

func NewCacheStore(shared cache.Cache, ttl time.Duration, log *zap.Logger) *CacheStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CacheStore{shared: shared, ttl: ttl, log: log.Named("recall")}
}

func (s *CacheStore) Lookup(ctx context.Context, sigs Signatures, minSimilarity float64) (*Hit, error) {
	for _, level := range AllLevels {
		sig := sigs.For(level)
		if sig == "" {
			continue
		}
		var e Entry
		ok, err := s.shared.GetJSON(ctx, key(level, sig), &e)
		if err != nil {
			return nil, fmt.Errorf("recall lookup %s: %w", level, err)
		}
		if !ok {
			continue
		}
		sim, accepted := accept(&e, sigs, level, minSimilarity)
		if !accepted {
			s.log.Debug("stale entry below similarity floor",
				zap.String("level", string(level)),
				zap.Float64("similarity", sim))
			continue
		}
		return &Hit{Entry: e, Level: level, Similarity: sim}, nil
	}
	return nil, nil
}

func (s *CacheStore) Save(ctx context.Context, sigs Signatures, e Entry) error {
	for _, level := range AllLevels {
		sig := sigs.For(level)
		if sig == "" {
			continue
		}
		if err := s.shared.SetJSON(ctx, key(level, sig), e, s.ttl); err != nil {
			return fmt.Errorf("recall save %s: %w", level, err)
		}
	}
	return nil
}

func key(level Level, sig string) string {
	return keyPrefix + string(level) + ":" + sig
}
