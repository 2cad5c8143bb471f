package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
	applogger "PatternDesk/pkg/logger"
)

// FileReportStore implements ReportWriter and ReportReader on one shared
// directory. Writers publish immutable files; readers re-scan every call.
type FileReportStore struct {
	dir          string
	perm         os.FileMode
	uniqueRunIDs bool
	now          func() time.Time
	l            *applogger.Logger
	metrics      domrepo.Metrics

	mu          sync.Mutex
	lastRun     map[models.Pair]time.Time
	lastSummary time.Time
	seeded      bool
}

var (
	_ domrepo.ReportWriter = (*FileReportStore)(nil)
	_ domrepo.ReportReader = (*FileReportStore)(nil)
)

// StoreOption customizes a FileReportStore.
type StoreOption func(*FileReportStore)

// WithClock replaces time.Now. Tests drive generated_at through it.
func WithClock(now func() time.Time) StoreOption {
	return func(s *FileReportStore) { s.now = now }
}

// WithUniqueRunIDs appends a run identifier to every file name so several
// producers can share a directory.
func WithUniqueRunIDs(on bool) StoreOption {
	return func(s *FileReportStore) { s.uniqueRunIDs = on }
}

func WithStoreLogger(l *applogger.Logger) StoreOption {
	return func(s *FileReportStore) { s.l = l }
}

func WithStoreMetrics(m domrepo.Metrics) StoreOption {
	return func(s *FileReportStore) { s.metrics = m }
}

// WithFileMode sets the permission bits of published files (default 0644).
func WithFileMode(perm os.FileMode) StoreOption {
	return func(s *FileReportStore) { s.perm = perm }
}

// NewFileReportStore creates a store rooted at dir. The directory is created
// on first write; a missing directory reads as empty.
func NewFileReportStore(dir string, opts ...StoreOption) *FileReportStore {
	s := &FileReportStore{
		dir:     dir,
		perm:    0o644,
		now:     time.Now,
		l:       applogger.Nop(),
		lastRun: make(map[models.Pair]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the report directory.
func (s *FileReportStore) Dir() string { return s.dir }

// WriteRunReport validates the inputs, stamps generated_at and publishes
// the report atomically. Invalid input returns models.ErrInvalidReport;
// publication failures return *models.FileWriteError.
func (s *FileReportStore) WriteRunReport(ctx context.Context, symbol models.Symbol, tf models.Timeframe, candleCount int, lastPrice decimal.Decimal, patterns []models.Pattern) (models.Published[models.RunReport], error) {
	var out models.Published[models.RunReport]
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if patterns == nil {
		patterns = []models.Pattern{}
	}
	for i, p := range patterns {
		if !json.Valid(p) {
			return out, fmt.Errorf("%w: pattern %d is not valid JSON", models.ErrInvalidReport, i)
		}
	}

	r := models.RunReport{
		Symbol:        symbol,
		Timeframe:     tf,
		GeneratedAt:   s.now(),
		CandleCount:   candleCount,
		LastPrice:     lastPrice,
		Patterns:      patterns,
		RunID:         models.RunIDFrom(ctx),
		SchemaVersion: models.SchemaVersion,
	}
	if err := r.Validate(); err != nil {
		return out, err
	}
	if s.uniqueRunIDs && r.RunID == "" {
		r.RunID = uuid.NewString()
	}

	r.GeneratedAt = s.nextRunStamp(ctx, r.Pair(), r.GeneratedAt)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return out, &models.FileWriteError{Op: "encode", Path: filepath.Join(s.dir, RunReportName(symbol, tf, r.GeneratedAt, "")), Err: err}
	}

	name := RunReportName(symbol, tf, r.GeneratedAt, s.suffix(r.RunID))
	path, err := publishFile(s.dir, name, data, s.perm)
	if err != nil {
		s.recordFailure(err)
		return out, err
	}

	if s.metrics != nil {
		s.metrics.RecordReportWritten(string(symbol), string(tf))
		s.metrics.RecordLastPrice(string(symbol), lastPrice.InexactFloat64())
	}
	s.l.Debug("run report published",
		applogger.String("path", path),
		applogger.String("pair", r.Pair().String()),
		applogger.Time("generated_at", r.GeneratedAt),
		applogger.Int("patterns", len(patterns)),
	)
	return models.Published[models.RunReport]{Path: path, Record: r}, nil
}

// WriteSummaryReport publishes a summary. A zero RunTimestamp is taken from
// the clock; SchemaVersion and RunID are filled in when unset.
func (s *FileReportStore) WriteSummaryReport(ctx context.Context, summary models.SummaryReport) (models.Published[models.SummaryReport], error) {
	var out models.Published[models.SummaryReport]
	if summary.RunTimestamp.IsZero() {
		summary.RunTimestamp = s.now()
	}
	if summary.SchemaVersion == 0 {
		summary.SchemaVersion = models.SchemaVersion
	}
	if summary.RunID == "" {
		summary.RunID = models.RunIDFrom(ctx)
	}
	if s.uniqueRunIDs && summary.RunID == "" {
		summary.RunID = uuid.NewString()
	}
	if err := summary.Validate(); err != nil {
		return out, err
	}
	summary.RunTimestamp = s.nextSummaryStamp(ctx, summary.RunTimestamp)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return out, &models.FileWriteError{Op: "encode", Path: filepath.Join(s.dir, SummaryName(summary.RunTimestamp, "")), Err: err}
	}
	path, err := publishFile(s.dir, SummaryName(summary.RunTimestamp, s.suffix(summary.RunID)), data, s.perm)
	if err != nil {
		s.recordFailure(err)
		return out, err
	}
	s.l.Info("summary report published",
		applogger.String("path", path),
		applogger.Int("attempted", summary.Attempted),
		applogger.Int("succeeded", summary.Succeeded),
		applogger.Int("pattern_total", summary.PatternTotal),
	)
	return models.Published[models.SummaryReport]{Path: path, Record: summary}, nil
}

func (s *FileReportStore) suffix(runID string) string {
	if !s.uniqueRunIDs {
		return ""
	}
	return runIDSuffix(runID)
}

func (s *FileReportStore) recordFailure(err error) {
	var fwe *models.FileWriteError
	if s.metrics != nil && errors.As(err, &fwe) {
		s.metrics.RecordWriteFailure(fwe.Op)
	}
}

// nextRunStamp returns a millisecond-truncated timestamp strictly after any
// previously issued or already published one for the pair.
func (s *FileReportStore) nextRunStamp(ctx context.Context, pair models.Pair, want time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(ctx)
	ts := bumpAfter(want, s.lastRun[pair])
	s.lastRun[pair] = ts
	return ts
}

func (s *FileReportStore) nextSummaryStamp(ctx context.Context, want time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedLocked(ctx)
	ts := bumpAfter(want, s.lastSummary)
	s.lastSummary = ts
	return ts
}

// seedLocked loads the newest published stamps of every pair and of the
// summary in one directory pass, once per store. A failed pass is retried on
// the next write. Caller holds mu.
func (s *FileReportStore) seedLocked(ctx context.Context) {
	if s.seeded {
		return
	}
	list, err := s.ListReports(ctx, models.ReportFilter{})
	if err != nil {
		s.l.Warn("seed report stamps", applogger.Error(err))
		return
	}
	// newest first, so the first report seen per pair wins
	for _, r := range list.Reports {
		if _, ok := s.lastRun[r.Pair()]; !ok {
			s.lastRun[r.Pair()] = r.GeneratedAt
		}
	}
	sum, found, err := s.LatestSummary(ctx)
	if err != nil {
		s.l.Warn("seed summary stamp", applogger.Error(err))
		return
	}
	if found {
		s.lastSummary = sum.RunTimestamp
	}
	s.seeded = true
}

func bumpAfter(ts, last time.Time) time.Time {
	ts = ts.UTC().Truncate(time.Millisecond)
	if !ts.After(last) {
		ts = last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return ts
}

// ListReports scans the directory and returns valid run reports newest
// first by generated_at. Malformed files are skipped and counted. A missing
// directory yields an empty list.
func (s *FileReportStore) ListReports(ctx context.Context, filter models.ReportFilter) (models.ReportList, error) {
	entries, err := s.readDir()
	if err != nil {
		return models.ReportList{}, err
	}

	list := models.ReportList{Reports: []models.RunReport{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return models.ReportList{}, err
		}
		if e.IsDir() {
			continue
		}
		name, ok := parseRunReportName(e.Name())
		if !ok {
			continue
		}
		if filter.Symbol != "" && name.symbol != filter.Symbol {
			continue
		}
		if filter.Timeframe != "" && name.tf != filter.Timeframe {
			continue
		}

		var r models.RunReport
		if err := s.decodeFile(e.Name(), &r); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			list.Skipped++
			s.l.Warn("skipping malformed report", applogger.String("file", e.Name()), applogger.Error(err))
			continue
		}
		if err := r.Validate(); err != nil || r.Symbol != name.symbol || r.Timeframe != name.tf {
			if err == nil {
				err = fmt.Errorf("%w: content pair %s does not match file name", models.ErrInvalidReport, r.Pair())
			}
			list.Skipped++
			s.l.Warn("skipping malformed report", applogger.String("file", e.Name()), applogger.Error(err))
			continue
		}
		if !filter.Since.IsZero() && r.GeneratedAt.Before(filter.Since) {
			continue
		}
		list.Reports = append(list.Reports, r)
	}

	slices.SortStableFunc(list.Reports, func(a, b models.RunReport) int {
		return b.GeneratedAt.Compare(a.GeneratedAt)
	})
	if filter.Limit > 0 && len(list.Reports) > filter.Limit {
		list.Reports = list.Reports[:filter.Limit]
	}
	if s.metrics != nil && list.Skipped > 0 {
		s.metrics.RecordSkipped(list.Skipped)
	}
	return list, nil
}

// LatestReport returns the report with the greatest generated_at for the
// pair. found is false when none exists yet.
func (s *FileReportStore) LatestReport(ctx context.Context, symbol models.Symbol, tf models.Timeframe) (models.RunReport, bool, error) {
	list, err := s.ListReports(ctx, models.ReportFilter{Symbol: symbol, Timeframe: tf})
	if err != nil {
		return models.RunReport{}, false, err
	}
	if len(list.Reports) == 0 {
		return models.RunReport{}, false, nil
	}
	return list.Reports[0], true, nil
}

// LatestSummary returns the summary with the greatest run_timestamp.
func (s *FileReportStore) LatestSummary(ctx context.Context) (models.SummaryReport, bool, error) {
	entries, err := s.readDir()
	if err != nil {
		return models.SummaryReport{}, false, err
	}

	var (
		best  models.SummaryReport
		found bool
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return models.SummaryReport{}, false, err
		}
		if e.IsDir() || !isSummaryName(e.Name()) {
			continue
		}
		var sum models.SummaryReport
		err := s.decodeFile(e.Name(), &sum)
		if err == nil {
			err = sum.Validate()
		}
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.l.Warn("skipping malformed summary", applogger.String("file", e.Name()), applogger.Error(err))
				if s.metrics != nil {
					s.metrics.RecordSkipped(1)
				}
			}
			continue
		}
		if !found || sum.RunTimestamp.After(best.RunTimestamp) {
			best, found = sum, true
		}
	}
	return best, found, nil
}

func (s *FileReportStore) readDir() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read report dir: %w", err)
	}
	return entries, nil
}

func (s *FileReportStore) decodeFile(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
