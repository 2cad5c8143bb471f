package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternDesk/internal/domain/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...StoreOption) (*FileReportStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(100, 0).UTC()}
	opts = append([]StoreOption{WithClock(clock.Now)}, opts...)
	return NewFileReportStore(t.TempDir(), opts...), clock
}

func pattern(t *testing.T, name string) models.Pattern {
	t.Helper()
	p, err := models.NewPattern(map[string]any{"name": name})
	require.NoError(t, err)
	return p
}

func TestWriteRunReport_RoundTripForEveryPair(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for _, pair := range models.Pairs(nil, nil) {
		pub, err := store.WriteRunReport(ctx, pair.Symbol, pair.Timeframe, 42, decimal.RequireFromString("1.5"), []models.Pattern{pattern(t, "doji")})
		require.NoError(t, err, pair.String())

		got, found, err := store.LatestReport(ctx, pair.Symbol, pair.Timeframe)
		require.NoError(t, err)
		require.True(t, found, pair.String())
		assert.Equal(t, pair.Symbol, got.Symbol)
		assert.Equal(t, pair.Timeframe, got.Timeframe)
		assert.Equal(t, 42, got.CandleCount)
		assert.True(t, got.LastPrice.Equal(decimal.RequireFromString("1.5")))
		assert.True(t, got.GeneratedAt.Equal(pub.Record.GeneratedAt))
		require.Len(t, got.Patterns, 1)
		assert.JSONEq(t, `{"name":"doji"}`, string(got.Patterns[0]))
		assert.Equal(t, models.SchemaVersion, got.SchemaVersion)
	}
}

func TestEURUSDM15_LatestAndListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	_, err := store.WriteRunReport(ctx, models.EURUSD, models.TFM15, 2844, decimal.RequireFromString("1.17233"), nil)
	require.NoError(t, err)
	clock.Set(time.Unix(200, 0))
	_, err = store.WriteRunReport(ctx, models.EURUSD, models.TFM15, 2850, decimal.RequireFromString("1.17300"), nil)
	require.NoError(t, err)

	latest, found, err := store.LatestReport(ctx, models.EURUSD, models.TFM15)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, latest.GeneratedAt.Equal(time.Unix(200, 0)))
	assert.Equal(t, 2850, latest.CandleCount)
	assert.Equal(t, "1.173", latest.LastPrice.String())

	list, err := store.ListReports(ctx, models.ReportFilter{Symbol: models.EURUSD, Timeframe: models.TFM15})
	require.NoError(t, err)
	require.Len(t, list.Reports, 2)
	assert.Zero(t, list.Skipped)
	assert.Equal(t, 2850, list.Reports[0].CandleCount)
	assert.Equal(t, 2844, list.Reports[1].CandleCount)
}

func TestLatestReport_UsesGeneratedAtNotFileOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	dir := store.Dir()

	// File names and mtimes disagree with generated_at on purpose.
	writeRaw := func(name string, generatedAt time.Time, candles int, mtime time.Time) {
		r := models.RunReport{
			Symbol: models.GBPUSD, Timeframe: models.TFH1, GeneratedAt: generatedAt,
			CandleCount: candles, LastPrice: decimal.RequireFromString("1.3"), Patterns: []models.Pattern{},
		}
		b, err := json.Marshal(r)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, b, 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	writeRaw(RunReportName(models.GBPUSD, models.TFH1, base.Add(3*time.Hour), ""), base.Add(1*time.Hour), 1, base.Add(9*time.Hour))
	writeRaw(RunReportName(models.GBPUSD, models.TFH1, base.Add(1*time.Hour), ""), base.Add(3*time.Hour), 3, base)
	writeRaw(RunReportName(models.GBPUSD, models.TFH1, base.Add(2*time.Hour), ""), base.Add(2*time.Hour), 2, base.Add(5*time.Hour))

	latest, found, err := store.LatestReport(ctx, models.GBPUSD, models.TFH1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, latest.CandleCount)

	list, err := store.ListReports(ctx, models.ReportFilter{Symbol: models.GBPUSD})
	require.NoError(t, err)
	require.Len(t, list.Reports, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{list.Reports[0].CandleCount, list.Reports[1].CandleCount, list.Reports[2].CandleCount})
}

func TestWriteRunReport_GeneratedAtStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	// A frozen clock must still produce distinct, ordered reports.
	var prev time.Time
	for i := 0; i < 5; i++ {
		pub, err := store.WriteRunReport(ctx, models.USDJPY, models.TFH4, i, decimal.NewFromInt(150), nil)
		require.NoError(t, err)
		assert.True(t, pub.Record.GeneratedAt.After(prev))
		prev = pub.Record.GeneratedAt
	}

	list, err := store.ListReports(ctx, models.ReportFilter{Symbol: models.USDJPY, Timeframe: models.TFH4})
	require.NoError(t, err)
	require.Len(t, list.Reports, 5)
	assert.Equal(t, 4, list.Reports[0].CandleCount)
}

func TestWriteRunReport_SeedsFromExistingFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	later := &fakeClock{t: time.Unix(500, 0)}
	first := NewFileReportStore(dir, WithClock(later.Now))
	_, err := first.WriteRunReport(ctx, models.XAUUSD, models.TFM15, 1, decimal.NewFromInt(2000), nil)
	require.NoError(t, err)

	// A second process whose clock is behind must not publish an older report.
	behind := &fakeClock{t: time.Unix(100, 0)}
	second := NewFileReportStore(dir, WithClock(behind.Now))
	pub, err := second.WriteRunReport(ctx, models.XAUUSD, models.TFM15, 2, decimal.NewFromInt(2001), nil)
	require.NoError(t, err)
	assert.True(t, pub.Record.GeneratedAt.After(time.Unix(500, 0)))

	latest, _, err := second.LatestReport(ctx, models.XAUUSD, models.TFM15)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.CandleCount)
}

type scanCounter struct {
	mu    sync.Mutex
	scans int
}

func (c *scanCounter) RecordSkipped(int) {
	c.mu.Lock()
	c.scans++
	c.mu.Unlock()
}

func (c *scanCounter) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

func (*scanCounter) RecordReportWritten(string, string) {}
func (*scanCounter) RecordWriteFailure(string) {}
func (*scanCounter) RecordRun(int, int, int, float64) {}
func (*scanCounter) RecordLastPrice(string, float64) {}
func (*scanCounter) RecordError(string) {}
func (*scanCounter) RecordLatency(string, float64) {}

func TestWriteRunReport_SeedsEveryPairInOneScan(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ahead := &fakeClock{t: time.Unix(500, 0)}
	first := NewFileReportStore(dir, WithClock(ahead.Now))
	pairs := models.Pairs(nil, nil)
	for _, pair := range pairs {
		_, err := first.WriteRunReport(ctx, pair.Symbol, pair.Timeframe, 1, decimal.NewFromInt(1), nil)
		require.NoError(t, err)
	}
	_, err := first.WriteSummaryReport(ctx, models.SummaryReport{Attempted: 12, Succeeded: 12})
	require.NoError(t, err)

	// every directory scan counts this file once
	bad := RunReportName(models.EURUSD, models.TFM15, time.Unix(1, 0), "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, bad), []byte("{"), 0o644))

	counter := &scanCounter{}
	behind := &fakeClock{t: time.Unix(100, 0)}
	second := NewFileReportStore(dir, WithClock(behind.Now), WithStoreMetrics(counter))
	for _, pair := range pairs {
		pub, err := second.WriteRunReport(ctx, pair.Symbol, pair.Timeframe, 2, decimal.NewFromInt(2), nil)
		require.NoError(t, err, pair.String())
		assert.True(t, pub.Record.GeneratedAt.After(time.Unix(500, 0)), pair.String())
	}
	sum, err := second.WriteSummaryReport(ctx, models.SummaryReport{Attempted: 12, Succeeded: 12})
	require.NoError(t, err)
	assert.True(t, sum.Record.RunTimestamp.After(time.Unix(500, 0)))

	assert.Equal(t, 1, counter.Scans(), "stamps seeded from a single report scan")
}

func TestListReports_SkipsMalformed(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, err := store.WriteRunReport(ctx, models.EURUSD, models.TFH1, 10, decimal.RequireFromString("1.1"), nil)
	require.NoError(t, err)

	dir := store.Dir()
	stamp := time.Unix(300, 0)
	bad := []string{
		`{"symbol":"EURUSD","timeframe":"H1","generated_at":`,
		`{"symbol":"EURUSD","timeframe":"H1","generated_at":"2025-01-01T00:00:00Z","candle_count":1,"last_price":"-1","patterns":[]}`,
		`{"symbol":"EURUSD","timeframe":"H1","candle_count":1,"last_price":"1","patterns":[]}`,
		`[]`,
		`{"symbol":"GBPUSD","timeframe":"H1","generated_at":"2025-01-01T00:00:00Z","candle_count":1,"last_price":"1","patterns":[]}`,
	}
	for i, body := range bad {
		name := RunReportName(models.EURUSD, models.TFH1, stamp.Add(time.Duration(i)*time.Second), "")
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	// Not report files at all: ignored, not counted.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	list, err := store.ListReports(ctx, models.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, 10, list.Reports[0].CandleCount)
	assert.Equal(t, len(bad), list.Skipped)
}

func TestListReports_ToleratesUnknownFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	body := `{"symbol":"XAUUSD","timeframe":"H4","generated_at":"2025-03-01T12:00:00Z","candle_count":7,
		"last_price":2345.6,"patterns":[{"kind":"future","nested":{"x":1}}],"confidence":0.9}`
	name := RunReportName(models.XAUUSD, models.TFH4, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), "")
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), name), []byte(body), 0o644))

	r, found, err := store.LatestReport(ctx, models.XAUUSD, models.TFH4)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2345.6", r.LastPrice.String())
	assert.JSONEq(t, `0.9`, string(r.Extensions["confidence"]))
	assert.JSONEq(t, `{"kind":"future","nested":{"x":1}}`, string(r.Patterns[0]))

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"confidence":0.9`)
}

func TestLatestReport_EmptyOrMissingDirectory(t *testing.T) {
	ctx := context.Background()

	store, _ := newTestStore(t)
	r, found, err := store.LatestReport(ctx, models.XAUUSD, models.TFH4)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, models.RunReport{}, r)

	missing := NewFileReportStore(filepath.Join(t.TempDir(), "does-not-exist"))
	_, found, err = missing.LatestReport(ctx, models.EURUSD, models.TFM15)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = missing.LatestSummary(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLatestReport_SeesNewFilesWithoutRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reader := NewFileReportStore(dir)
	writer := NewFileReportStore(dir)

	_, found, err := reader.LatestReport(ctx, models.XAUUSD, models.TFH4)
	require.NoError(t, err)
	require.False(t, found)

	_, err = writer.WriteRunReport(ctx, models.XAUUSD, models.TFH4, 120, decimal.RequireFromString("2650.25"), nil)
	require.NoError(t, err)

	r, found, err := reader.LatestReport(ctx, models.XAUUSD, models.TFH4)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 120, r.CandleCount)
}

func TestWriteRunReport_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	cases := []struct {
		name     string
		symbol   models.Symbol
		tf       models.Timeframe
		candles  int
		price    decimal.Decimal
		patterns []models.Pattern
	}{
		{"unknown symbol", "BTCUSD", models.TFH1, 1, decimal.NewFromInt(1), nil},
		{"unknown timeframe", models.EURUSD, "D1", 1, decimal.NewFromInt(1), nil},
		{"negative candles", models.EURUSD, models.TFH1, -1, decimal.NewFromInt(1), nil},
		{"zero price", models.EURUSD, models.TFH1, 1, decimal.Zero, nil},
		{"negative price", models.EURUSD, models.TFH1, 1, decimal.NewFromInt(-2), nil},
		{"broken pattern", models.EURUSD, models.TFH1, 1, decimal.NewFromInt(1), []models.Pattern{models.Pattern(`{`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.WriteRunReport(ctx, tc.symbol, tc.tf, tc.candles, tc.price, tc.patterns)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidReport)
			assert.False(t, models.IsFileWriteError(err))
		})
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteRunReport_FailureLeavesNoVisibleFile(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	boom := errors.New("disk full")
	origWrite, origSync := writeFile, syncFile
	t.Cleanup(func() { writeFile, syncFile = origWrite, origSync })

	writeFile = func(f *os.File, b []byte) (int, error) {
		n, _ := f.Write(b[:len(b)/2])
		return n, boom
	}
	_, err := store.WriteRunReport(ctx, models.EURUSD, models.TFM15, 1, decimal.NewFromInt(1), nil)
	require.Error(t, err)
	var fwe *models.FileWriteError
	require.ErrorAs(t, err, &fwe)
	assert.Equal(t, "write", fwe.Op)
	assert.ErrorIs(t, err, boom)

	writeFile = origWrite
	syncFile = func(*os.File) error { return boom }
	_, err = store.WriteSummaryReport(ctx, models.SummaryReport{Attempted: 1, Succeeded: 0})
	require.ErrorAs(t, err, &fwe)
	assert.Equal(t, "sync", fwe.Op)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "neither the final file nor the temp file may remain")

	_, found, err := store.LatestReport(ctx, models.EURUSD, models.TFM15)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPublishFile_NeverReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	_, err := publishFile(dir, "a.json", []byte(`{"v":1}`), 0o644)
	require.NoError(t, err)

	_, err = publishFile(dir, "a.json", []byte(`{"v":2}`), 0o644)
	var fwe *models.FileWriteError
	require.ErrorAs(t, err, &fwe)
	assert.Equal(t, "publish", fwe.Op)
	assert.ErrorIs(t, err, fs.ErrExist)

	b, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(b))
}

func TestPublishFile_RenameFallbackWithoutHardLinks(t *testing.T) {
	dir := t.TempDir()
	orig := linkFile
	t.Cleanup(func() { linkFile = orig })
	linkFile = func(string, string) error { return &os.LinkError{Op: "link", Err: errors.New("operation not permitted")} }

	path, err := publishFile(dir, "b.json", []byte(`{}`), 0o644)
	require.NoError(t, err)
	assert.FileExists(t, path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSummary_WarningFieldsIntactAndLatestWins(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	_, found, err := store.LatestSummary(ctx)
	require.NoError(t, err)
	require.False(t, found)

	_, err = store.WriteSummaryReport(ctx, models.SummaryReport{Attempted: 12, Succeeded: 12, PatternTotal: 14})
	require.NoError(t, err)
	clock.Set(time.Unix(900, 0))
	_, err = store.WriteSummaryReport(ctx, models.SummaryReport{Attempted: 12, Succeeded: 9, PatternTotal: 3})
	require.NoError(t, err)

	sum, found, err := store.LatestSummary(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12, sum.Attempted)
	assert.Equal(t, 9, sum.Succeeded)
	assert.True(t, sum.Incomplete())
	assert.True(t, sum.RunTimestamp.Equal(time.Unix(900, 0)))
}

func TestSummary_RejectsSucceededAboveAttempted(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.WriteSummaryReport(context.Background(), models.SummaryReport{Attempted: 1, Succeeded: 2})
	assert.ErrorIs(t, err, models.ErrInvalidReport)
}

func TestUniqueRunIDs_InFileNames(t *testing.T) {
	ctx := models.WithRunID(context.Background(), "0f8c2a9e-1111-4222-8333-444455556666")
	store, _ := newTestStore(t, WithUniqueRunIDs(true))

	pub, err := store.WriteRunReport(ctx, models.EURUSD, models.TFM15, 1, decimal.NewFromInt(1), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pub.Path, "_0f8c2a9e.json"), pub.Path)
	assert.Equal(t, "0f8c2a9e-1111-4222-8333-444455556666", pub.Record.RunID)

	sum, err := store.WriteSummaryReport(ctx, models.SummaryReport{Attempted: 1, Succeeded: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sum.Path, "_0f8c2a9e.json"), sum.Path)

	list, err := store.ListReports(context.Background(), models.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, list.Reports, 1)
}

func TestListReports_Limit(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for i := 0; i < 4; i++ {
		_, err := store.WriteRunReport(ctx, models.EURUSD, models.TFH1, i, decimal.NewFromInt(1), nil)
		require.NoError(t, err)
	}
	list, err := store.ListReports(ctx, models.ReportFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Reports, 2)
	assert.Equal(t, 3, list.Reports[0].CandleCount)
}

func TestConcurrentWritersDifferentPairs(t *testing.T) {
	ctx := context.Background()
	store := NewFileReportStore(t.TempDir())

	var wg sync.WaitGroup
	for _, pair := range models.Pairs(nil, nil) {
		wg.Add(1)
		go func(p models.Pair) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := store.WriteRunReport(ctx, p.Symbol, p.Timeframe, i, decimal.NewFromInt(1), nil)
				assert.NoError(t, err)
			}
		}(pair)
	}
	wg.Wait()

	list, err := store.ListReports(ctx, models.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, list.Reports, 36)
	assert.Zero(t, list.Skipped)
}
