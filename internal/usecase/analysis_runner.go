package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"PatternDesk/internal/domain/models"
	drepo "PatternDesk/internal/domain/repository"
	"PatternDesk/internal/domain/service"
	applogger "PatternDesk/pkg/logger"
)

var (
	ErrNoCandles    = errors.New("no candles")
	ErrInvalidPrice = errors.New("last price not positive")
	ErrRunAborted   = errors.New("run aborted before the pair was analysed")
)

// RunnerConfig tunes one batch.
type RunnerConfig struct {
	Lookback     time.Duration
	Workers      int
	PairTimeout  time.Duration
	WriteRetries int
}

// PairFailure records why a pair did not publish.
type PairFailure struct {
	Pair models.Pair
	Err  error
}

// RunResult is the outcome of one AnalysisRunner.Run.
type RunResult struct {
	RunID        string
	RunTimestamp time.Time
	Reports      []models.Published[models.RunReport]
	Failures     []PairFailure
	Summary      models.Published[models.SummaryReport]
}

// AnalysisRunner executes one analysis batch over a fixed set of pairs:
// fetch, detect, remember, publish per pair, then the summary.
type AnalysisRunner struct {
	source   drepo.CandleSource
	detector service.PatternDetector
	writer   drepo.ReportWriter
	memory   drepo.PatternMemory
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	l        *applogger.Logger

	pairs        []models.Pair
	cfg          RunnerConfig
	now          func() time.Time
	retryInitial time.Duration
}

type RunnerOption func(*AnalysisRunner)

// WithPatternMemory injects the pattern history store.
func WithPatternMemory(m drepo.PatternMemory) RunnerOption {
	return func(r *AnalysisRunner) { r.memory = m }
}

func WithEventPublisher(p drepo.EventPublisher) RunnerOption {
	return func(r *AnalysisRunner) { r.events = p }
}

func WithRunnerMetrics(m drepo.Metrics) RunnerOption {
	return func(r *AnalysisRunner) { r.metrics = m }
}

func WithRunnerLogger(l *applogger.Logger) RunnerOption {
	return func(r *AnalysisRunner) { r.l = l }
}

// WithRunnerClock replaces time.Now.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *AnalysisRunner) { r.now = now }
}

// NewAnalysisRunner builds a runner over pairs.
func NewAnalysisRunner(source drepo.CandleSource, detector service.PatternDetector, writer drepo.ReportWriter, pairs []models.Pair, cfg RunnerConfig, opts ...RunnerOption) *AnalysisRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 1
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	r := &AnalysisRunner{
		source:       source,
		detector:     detector,
		writer:       writer,
		pairs:        pairs,
		cfg:          cfg,
		l:            applogger.Nop(),
		now:          time.Now,
		retryInitial: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pairs returns the pairs analysed by every run.
func (r *AnalysisRunner) Pairs() []models.Pair { return r.pairs }

// Run analyses every pair and then publishes the summary. A pair failure
// never stops the others. On cancellation the pairs not yet published count
// as failed and the summary is still written. The returned error is set only
// when the summary could not be published.
func (r *AnalysisRunner) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	res := RunResult{RunID: uuid.NewString(), RunTimestamp: r.now().UTC()}
	ctx = models.WithRunID(ctx, res.RunID)
	l := r.l.With(applogger.String("run_id", res.RunID))
	l.Info("analysis run started", applogger.Int("pairs", len(r.pairs)), applogger.Time("run_timestamp", res.RunTimestamp))

	type outcome struct {
		pub models.Published[models.RunReport]
		err error
	}
	outcomes := make([]outcome, len(r.pairs))

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, pair := range r.pairs {
		if ctx.Err() != nil {
			outcomes[i].err = ErrRunAborted
			continue
		}
		g.Go(func() error {
			pub, err := r.analysePair(ctx, pair, res.RunTimestamp)
			outcomes[i] = outcome{pub: pub, err: err}
			return nil
		})
	}
	_ = g.Wait()

	summary := models.SummaryReport{
		RunTimestamp: res.RunTimestamp,
		Attempted:    len(r.pairs),
		RunID:        res.RunID,
		Pairs:        r.pairs,
	}
	for i, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, PairFailure{Pair: r.pairs[i], Err: o.err})
			summary.FailedPairs = append(summary.FailedPairs, r.pairs[i])
			l.Warn("pair analysis failed", applogger.String("pair", r.pairs[i].String()), applogger.Error(o.err))
			continue
		}
		res.Reports = append(res.Reports, o.pub)
		summary.Succeeded++
		summary.PatternTotal += o.pub.Record.PatternCount()
	}

	// published run reports stay valid whatever happens to ctx
	sctx := context.WithoutCancel(ctx)
	var err error
	res.Summary, err = writeWithRetry(sctx, r.retryInitial, r.cfg.WriteRetries, func() (models.Published[models.SummaryReport], error) {
		return r.writer.WriteSummaryReport(sctx, summary)
	})
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordRun(summary.Attempted, summary.Succeeded, summary.PatternTotal, elapsed.Seconds())
	}
	if err != nil {
		l.Error("summary publish failed", applogger.Error(err))
		return res, fmt.Errorf("write summary: %w", err)
	}
	if r.events != nil {
		if err := r.events.PublishSummary(sctx, res.Summary); err != nil {
			l.Warn("summary event publish failed", applogger.Error(err))
		}
	}

	l.Info("analysis run finished",
		applogger.Int("attempted", summary.Attempted),
		applogger.Int("succeeded", summary.Succeeded),
		applogger.Int("pattern_total", summary.PatternTotal),
		applogger.String("summary", res.Summary.Path),
		applogger.Duration("duration", elapsed),
	)
	return res, nil
}

func (r *AnalysisRunner) analysePair(ctx context.Context, pair models.Pair, runTS time.Time) (models.Published[models.RunReport], error) {
	var none models.Published[models.RunReport]
	if r.cfg.PairTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PairTimeout)
		defer cancel()
	}

	candles, err := r.source.FetchCandles(ctx, pair.Symbol, pair.Timeframe, runTS.Add(-r.cfg.Lookback))
	if err != nil {
		r.recordError("fetch")
		return none, fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) == 0 {
		r.recordError("fetch")
		return none, ErrNoCandles
	}
	lastPrice := decimal.NewFromFloat(candles[len(candles)-1].Close)
	if !lastPrice.IsPositive() {
		return none, fmt.Errorf("%w: %s", ErrInvalidPrice, lastPrice)
	}

	detectStart := time.Now()
	patterns, err := r.detector.Detect(ctx, pair.Symbol, pair.Timeframe, candles)
	if r.metrics != nil {
		r.metrics.RecordLatency("detect", time.Since(detectStart).Seconds())
	}
	if err != nil {
		r.recordError("detect")
		return none, fmt.Errorf("detect patterns: %w", err)
	}

	pub, err := writeWithRetry(ctx, r.retryInitial, r.cfg.WriteRetries, func() (models.Published[models.RunReport], error) {
		return r.writer.WriteRunReport(ctx, pair.Symbol, pair.Timeframe, len(candles), lastPrice, patterns)
	})
	if err != nil {
		return none, fmt.Errorf("write run report: %w", err)
	}

	// the report is already visible; history and events are best effort
	if r.memory != nil {
		if err := r.memory.Record(ctx, pair.Symbol, pair.Timeframe, pub.Record.GeneratedAt, pub.Record.Patterns); err != nil {
			r.recordError("pattern_memory")
			r.l.Warn("pattern memory record failed", applogger.String("pair", pair.String()), applogger.Error(err))
		}
	}
	if r.events != nil {
		if err := r.events.PublishReport(ctx, pub); err != nil {
			r.recordError("event")
			r.l.Warn("report event publish failed", applogger.String("pair", pair.String()), applogger.Error(err))
		}
	}
	return pub, nil
}

// writeWithRetry retries *models.FileWriteError with exponential backoff.
// Any other error is returned at once.
func writeWithRetry[T any](ctx context.Context, initial time.Duration, attempts int, write func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(attempts, 1)-1)), ctx)

	var out T
	err := backoff.Retry(func() error {
		var err error
		out, err = write()
		if err != nil && !models.IsFileWriteError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return out, err
}

func (r *AnalysisRunner) recordError(kind string) {
	if r.metrics != nil {
		r.metrics.RecordError(kind)
	}
}
