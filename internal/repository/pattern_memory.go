package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
	"PatternDesk/pkg/cache"
)

// CachePatternMemory keeps a bounded, newest-first pattern history per pair
// in a cache.Service. The store handle is passed in; nothing here is global.
type CachePatternMemory struct {
	c       cache.Service
	size    int
	ttl     time.Duration
	lockTTL time.Duration
}

var _ domrepo.PatternMemory = (*CachePatternMemory)(nil)

// NewCachePatternMemory keeps up to size snapshots per pair for ttl.
func NewCachePatternMemory(c cache.Service, size int, ttl time.Duration) *CachePatternMemory {
	if size <= 0 {
		size = 50
	}
	return &CachePatternMemory{c: c, size: size, ttl: ttl, lockTTL: 5 * time.Second}
}

func historyKey(symbol models.Symbol, tf models.Timeframe) string {
	return cache.GenerateKeyWithParams("patterns", symbol, tf)
}

// Record prepends a snapshot to the pair history, trimming it to size.
func (m *CachePatternMemory) Record(ctx context.Context, symbol models.Symbol, tf models.Timeframe, generatedAt time.Time, patterns []models.Pattern) error {
	key := historyKey(symbol, tf)
	return cache.WithLock(ctx, m.c, key, m.lockTTL, 20*time.Millisecond, func() error {
		hist, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		if patterns == nil {
			patterns = []models.Pattern{}
		}
		hist = append(hist, models.PatternSnapshot{
			Symbol: symbol, Timeframe: tf, GeneratedAt: generatedAt.UTC(), Patterns: patterns,
		})
		slices.SortStableFunc(hist, func(a, b models.PatternSnapshot) int {
			return b.GeneratedAt.Compare(a.GeneratedAt)
		})
		if len(hist) > m.size {
			hist = hist[:m.size]
		}
		if err := m.c.Set(ctx, key, hist, m.ttl); err != nil {
			return fmt.Errorf("store pattern history %s: %w", key, err)
		}
		return nil
	})
}

// Recent returns up to n snapshots, newest first. n <= 0 returns all.
func (m *CachePatternMemory) Recent(ctx context.Context, symbol models.Symbol, tf models.Timeframe, n int) ([]models.PatternSnapshot, error) {
	hist, err := m.load(ctx, historyKey(symbol, tf))
	if err != nil {
		return nil, err
	}
	if n > 0 && len(hist) > n {
		hist = hist[:n]
	}
	return hist, nil
}

func (m *CachePatternMemory) load(ctx context.Context, key string) ([]models.PatternSnapshot, error) {
	hist, err := cache.GetTyped[[]models.PatternSnapshot](ctx, m.c, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return []models.PatternSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern history %s: %w", key, err)
	}
	return hist, nil
}
