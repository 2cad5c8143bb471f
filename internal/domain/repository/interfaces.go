package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"PatternDesk/internal/domain/models"
)

// ReportWriter publishes immutable report files. Both methods either publish
// the complete file or return a *models.FileWriteError with nothing visible.
type ReportWriter interface {
	WriteRunReport(ctx context.Context, symbol models.Symbol, tf models.Timeframe, candleCount int, lastPrice decimal.Decimal, patterns []models.Pattern) (models.Published[models.RunReport], error)
	WriteSummaryReport(ctx context.Context, summary models.SummaryReport) (models.Published[models.SummaryReport], error)
}

// ReportReader re-scans the report directory on every call.
type ReportReader interface {
	ListReports(ctx context.Context, filter models.ReportFilter) (models.ReportList, error)
	// LatestReport returns found=false when no report exists for the pair.
	LatestReport(ctx context.Context, symbol models.Symbol, tf models.Timeframe) (models.RunReport, bool, error)
	LatestSummary(ctx context.Context) (models.SummaryReport, bool, error)
}

// CandleSource supplies raw price bars for a pair since a given time,
// oldest first.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol models.Symbol, tf models.Timeframe, since time.Time) ([]models.Candle, error)
}

// MarketStream is a live trade feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// PatternMemory is the long-lived pattern history shared across runs.
type PatternMemory interface {
	Record(ctx context.Context, symbol models.Symbol, tf models.Timeframe, generatedAt time.Time, patterns []models.Pattern) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, symbol models.Symbol, tf models.Timeframe, n int) ([]models.PatternSnapshot, error)
}

// EventPublisher announces published reports to downstream listeners.
type EventPublisher interface {
	PublishReport(ctx context.Context, p models.Published[models.RunReport]) error
	PublishSummary(ctx context.Context, p models.Published[models.SummaryReport]) error
	Close() error
}

type Metrics interface {
	RecordReportWritten(symbol, timeframe string)
	RecordWriteFailure(op string)
	RecordSkipped(n int)
	RecordRun(attempted, succeeded, patternTotal int, seconds float64)
	RecordLastPrice(symbol string, price float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
