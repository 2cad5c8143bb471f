package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
	pkgch "PatternDesk/pkg/clickhouse"
	applogger "PatternDesk/pkg/logger"
)

// CHCandleSource reads OHLCV bars from per-timeframe ClickHouse tables.
type CHCandleSource struct {
	db       *sql.DB
	database string
	maxBars  int
	l        *applogger.Logger
}

var _ domrepo.CandleSource = (*CHCandleSource)(nil)

// NewCHCandleSource reads at most maxBars of the newest bars per call.
func NewCHCandleSource(ch *pkgch.Client, maxBars int) *CHCandleSource {
	if maxBars <= 0 {
		maxBars = 5000
	}
	return &CHCandleSource{db: ch.DB(), database: ch.Database(), maxBars: maxBars, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHCandleSource) SetLogger(l *applogger.Logger) { s.l = l }

// FetchCandles returns bars with bucket >= since, oldest first.
func (s *CHCandleSource) FetchCandles(ctx context.Context, symbol models.Symbol, tf models.Timeframe, since time.Time) ([]models.Candle, error) {
	start := time.Now()
	table, err := candleTable(s.database, tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, volume
        FROM %s
        WHERE symbol = ? AND bucket >= ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, table), string(symbol), since.UTC(), s.maxBars)
	if err != nil {
		s.l.Error("clickhouse fetch_candles query error",
			applogger.String("table", table),
			applogger.String("symbol", string(symbol)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("fetch candles %s/%s: %w", symbol, tf, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var (
			c   models.Candle
			sym string
		)
		if err := rows.Scan(&c.Bucket, &sym, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Symbol = models.Symbol(sym)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	reverseCandles(out)

	s.l.Debug("clickhouse fetch_candles ok",
		applogger.String("table", table),
		applogger.String("symbol", string(symbol)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func reverseCandles(cs []models.Candle) {
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
}

func candleTable(database string, tf models.Timeframe) (string, error) {
	if !models.IsValidTimeframe(tf) {
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
	name := "candles_" + strings.ToLower(string(tf))
	if database == "" {
		return name, nil
	}
	return database + "." + name, nil
}

// CandleSchema returns idempotent DDL for every timeframe table.
func CandleSchema(database string) []string {
	stmts := make([]string, 0, len(models.Timeframes())+1)
	if database != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database))
	}
	for _, tf := range models.Timeframes() {
		table, _ := candleTable(database, tf)
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    bucket DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, bucket)`, table))
	}
	return stmts
}
