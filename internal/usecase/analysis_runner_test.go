package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternDesk/internal/domain/models"
	"PatternDesk/internal/repository"
	"PatternDesk/pkg/cache"
)

type fakeSource struct {
	fail  map[models.Pair]error
	empty map[models.Pair]bool
	price float64
	block chan struct{}
}

func (f *fakeSource) FetchCandles(ctx context.Context, symbol models.Symbol, tf models.Timeframe, since time.Time) ([]models.Candle, error) {
	pair := models.Pair{Symbol: symbol, Timeframe: tf}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[pair]; err != nil {
		return nil, err
	}
	if f.empty[pair] {
		return nil, nil
	}
	price := f.price
	if price == 0 {
		price = 1.17233
	}
	out := make([]models.Candle, 5)
	for i := range out {
		out[i] = models.Candle{Bucket: since.Add(time.Duration(i) * tf.Duration()), Symbol: symbol, Open: price, High: price, Low: price, Close: price}
	}
	return out, nil
}

// fakeDetector returns perPair patterns for every pair it does not fail.
type fakeDetector struct {
	perPair int
	fail    map[models.Pair]bool
}

func (f *fakeDetector) Detect(_ context.Context, symbol models.Symbol, tf models.Timeframe, candles []models.Candle) ([]models.Pattern, error) {
	if f.fail[models.Pair{Symbol: symbol, Timeframe: tf}] {
		return nil, errors.New("detector exploded")
	}
	out := make([]models.Pattern, f.perPair)
	for i := range out {
		out[i] = models.Pattern(fmt.Sprintf(`{"name":"p%d","bars":%d}`, i, len(candles)))
	}
	return out, nil
}

type flakyWriter struct {
	*repository.FileReportStore
	mu       sync.Mutex
	failures map[models.Pair]int
}

func (w *flakyWriter) WriteRunReport(ctx context.Context, symbol models.Symbol, tf models.Timeframe, candleCount int, lastPrice decimal.Decimal, patterns []models.Pattern) (models.Published[models.RunReport], error) {
	pair := models.Pair{Symbol: symbol, Timeframe: tf}
	w.mu.Lock()
	if w.failures[pair] > 0 {
		w.failures[pair]--
		w.mu.Unlock()
		return models.Published[models.RunReport]{}, &models.FileWriteError{Op: "sync", Path: "x", Err: errors.New("disk full")}
	}
	w.mu.Unlock()
	return w.FileReportStore.WriteRunReport(ctx, symbol, tf, candleCount, lastPrice, patterns)
}

type recordingEvents struct {
	mu        sync.Mutex
	reports   int
	summaries int
}

func (e *recordingEvents) PublishReport(context.Context, models.Published[models.RunReport]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports++
	return nil
}

func (e *recordingEvents) PublishSummary(context.Context, models.Published[models.SummaryReport]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.summaries++
	return nil
}

func (e *recordingEvents) Close() error { return nil }

func newRunner(t *testing.T, src *fakeSource, det *fakeDetector, opts ...RunnerOption) (*AnalysisRunner, *repository.FileReportStore) {
	t.Helper()
	store := repository.NewFileReportStore(t.TempDir())
	r := NewAnalysisRunner(src, det, store, models.Pairs(nil, nil), RunnerConfig{Workers: 3, WriteRetries: 3, PairTimeout: 5 * time.Second}, opts...)
	r.retryInitial = time.Millisecond
	return r, store
}

func TestAnalysisRunner_AllPairsPublish(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewCachePatternMemory(cache.NewMemoryCache(), 10, time.Hour)
	events := &recordingEvents{}
	r, store := newRunner(t, &fakeSource{}, &fakeDetector{perPair: 2}, WithPatternMemory(mem), WithEventPublisher(events))

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Reports, 12)
	assert.Empty(t, res.Failures)

	s := res.Summary.Record
	assert.Equal(t, 12, s.Attempted)
	assert.Equal(t, 12, s.Succeeded)
	assert.Equal(t, 24, s.PatternTotal)
	assert.Equal(t, res.RunID, s.RunID)
	assert.Empty(t, s.FailedPairs)
	assert.False(t, s.Incomplete())

	latest, found, err := store.LatestSummary(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 24, latest.PatternTotal)

	for _, pair := range models.Pairs(nil, nil) {
		rep, found, err := store.LatestReport(ctx, pair.Symbol, pair.Timeframe)
		require.NoError(t, err)
		require.True(t, found, pair.String())
		assert.Equal(t, 5, rep.CandleCount)
		assert.True(t, rep.LastPrice.Equal(decimal.RequireFromString("1.17233")))
		assert.Equal(t, res.RunID, rep.RunID)

		hist, err := mem.Recent(ctx, pair.Symbol, pair.Timeframe, 0)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, rep.GeneratedAt, hist[0].GeneratedAt)
	}
	assert.Equal(t, 12, events.reports)
	assert.Equal(t, 1, events.summaries)
}

func TestAnalysisRunner_PartialFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		fail:  map[models.Pair]error{{Symbol: models.GBPUSD, Timeframe: models.TFH1}: errors.New("clickhouse down")},
		empty: map[models.Pair]bool{{Symbol: models.USDJPY, Timeframe: models.TFM15}: true},
	}
	det := &fakeDetector{perPair: 1, fail: map[models.Pair]bool{{Symbol: models.XAUUSD, Timeframe: models.TFH4}: true}}
	r, store := newRunner(t, src, det)

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Reports, 9)
	require.Len(t, res.Failures, 3)

	s := res.Summary.Record
	assert.Equal(t, 12, s.Attempted)
	assert.Equal(t, 9, s.Succeeded)
	assert.Equal(t, 9, s.PatternTotal)
	assert.True(t, s.Incomplete())
	assert.ElementsMatch(t, []models.Pair{
		{Symbol: models.GBPUSD, Timeframe: models.TFH1},
		{Symbol: models.USDJPY, Timeframe: models.TFM15},
		{Symbol: models.XAUUSD, Timeframe: models.TFH4},
	}, s.FailedPairs)

	var noCandles bool
	for _, f := range res.Failures {
		if errors.Is(f.Err, ErrNoCandles) {
			noCandles = true
		}
	}
	assert.True(t, noCandles)

	_, found, err := store.LatestReport(ctx, models.XAUUSD, models.TFH4)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAnalysisRunner_NonPositivePriceFails(t *testing.T) {
	r, _ := newRunner(t, &fakeSource{price: -1}, &fakeDetector{})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Reports)
	require.Len(t, res.Failures, 12)
	assert.ErrorIs(t, res.Failures[0].Err, ErrInvalidPrice)
	assert.Equal(t, 0, res.Summary.Record.Succeeded)
}

func TestAnalysisRunner_RetriesFileWriteErrors(t *testing.T) {
	ctx := context.Background()
	store := repository.NewFileReportStore(t.TempDir())
	eur := models.Pair{Symbol: models.EURUSD, Timeframe: models.TFM15}
	gbp := models.Pair{Symbol: models.GBPUSD, Timeframe: models.TFM15}
	w := &flakyWriter{FileReportStore: store, failures: map[models.Pair]int{eur: 2, gbp: 5}}

	r := NewAnalysisRunner(&fakeSource{}, &fakeDetector{}, w, []models.Pair{eur, gbp}, RunnerConfig{WriteRetries: 3})
	r.retryInitial = time.Millisecond

	res, err := r.Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, eur, res.Reports[0].Record.Pair())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, gbp, res.Failures[0].Pair)
	assert.True(t, models.IsFileWriteError(res.Failures[0].Err))
	assert.Equal(t, 1, res.Summary.Record.Succeeded)
}

func TestAnalysisRunner_AbortStillWritesSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{block: make(chan struct{})}
	r, store := newRunner(t, src, &fakeDetector{perPair: 1})

	done := make(chan RunResult, 1)
	go func() {
		res, err := r.Run(ctx)
		if err == nil {
			done <- res
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	var res RunResult
	select {
	case got, ok := <-done:
		require.True(t, ok, "summary write failed")
		res = got
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.Empty(t, res.Reports)
	assert.Len(t, res.Failures, 12)

	s, found, err := store.LatestSummary(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12, s.Attempted)
	assert.Equal(t, 0, s.Succeeded)
	assert.True(t, s.Incomplete())
}
