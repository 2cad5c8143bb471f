package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternDesk/internal/domain/models"
	"PatternDesk/pkg/cache"
)

func TestCachePatternMemory_NewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	mem := NewCachePatternMemory(mc, 3, time.Hour)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, mem.Record(ctx, models.EURUSD, models.TFM15, base.Add(time.Duration(i)*time.Minute), []models.Pattern{pattern(t, "doji")}))
	}

	got, err := mem.Recent(ctx, models.EURUSD, models.TFM15, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].GeneratedAt.Equal(base.Add(4*time.Minute)))
	assert.True(t, got[2].GeneratedAt.Equal(base.Add(2*time.Minute)))

	two, err := mem.Recent(ctx, models.EURUSD, models.TFM15, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	none, err := mem.Recent(ctx, models.GBPUSD, models.TFH1, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCachePatternMemory_RedisSharedBetweenHandles(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	writerCache, err := cache.NewRedisCache(cache.WithRedisAddr(mr.Addr()))
	require.NoError(t, err)
	defer writerCache.Close()
	readerCache, err := cache.NewRedisCache(cache.WithRedisAddr(mr.Addr()))
	require.NoError(t, err)
	defer readerCache.Close()

	writer := NewCachePatternMemory(writerCache, 10, time.Hour)
	reader := NewCachePatternMemory(readerCache, 10, time.Hour)

	hammer := []models.Pattern{pattern(t, "hammer")}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := time.Unix(int64(1000+i), 0)
			assert.NoError(t, writer.Record(ctx, models.XAUUSD, models.TFH4, at, hammer))
		}(i)
	}
	wg.Wait()

	got, err := reader.Recent(ctx, models.XAUUSD, models.TFH4, 10)
	require.NoError(t, err)
	require.Len(t, got, 4, "locked read-modify-write keeps every snapshot")
	assert.JSONEq(t, `{"name":"hammer"}`, string(got[0].Patterns[0]))

	mr.FastForward(2 * time.Hour)
	got, err = reader.Recent(ctx, models.XAUUSD, models.TFH4, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCachePatternMemory_InProcessAppendsToExistingHistory(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	mem := NewCachePatternMemory(mc, 10, time.Hour)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	seed := []models.PatternSnapshot{{Symbol: models.XAUUSD, Timeframe: models.TFH4, GeneratedAt: base, Patterns: []models.Pattern{pattern(t, "doji")}}}
	require.NoError(t, mc.Set(context.Background(), historyKey(models.XAUUSD, models.TFH4), seed, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	hammer := []models.Pattern{pattern(t, "hammer")}
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, mem.Record(ctx, models.XAUUSD, models.TFH4, base.Add(time.Duration(i)*time.Hour), hammer))
		}(i)
	}
	wg.Wait()

	got, err := mem.Recent(context.Background(), models.XAUUSD, models.TFH4, 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.True(t, got[0].GeneratedAt.Equal(base.Add(3*time.Hour)))
	assert.True(t, got[3].GeneratedAt.Equal(base))
}
