package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
)

// CandleAggregator folds live trades into OHLCV bars for every timeframe
// and serves them as a CandleSource. Each pair keeps at most maxBars bars.
type CandleAggregator struct {
	mu         sync.RWMutex
	timeframes []models.Timeframe
	maxBars    int
	bars       map[models.Pair][]models.Candle
}

var _ domrepo.CandleSource = (*CandleAggregator)(nil)

// NewCandleAggregator buckets trades into the given timeframes (all when empty).
func NewCandleAggregator(timeframes []models.Timeframe, maxBars int) *CandleAggregator {
	if len(timeframes) == 0 {
		timeframes = models.Timeframes()
	}
	if maxBars <= 0 {
		maxBars = 500
	}
	return &CandleAggregator{
		timeframes: timeframes,
		maxBars:    maxBars,
		bars:       make(map[models.Pair][]models.Candle),
	}
}

// Process adds one trade to the open bar of every timeframe. Trades older
// than the open bar are merged into the matching closed bar when it is still
// buffered, and dropped otherwise.
func (a *CandleAggregator) Process(_ context.Context, t *models.Trade) error {
	if t == nil || t.Price <= 0 {
		return fmt.Errorf("invalid trade")
	}
	ts := time.Unix(t.Timestamp, 0).UTC()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tf := range a.timeframes {
		pair := models.Pair{Symbol: t.Symbol, Timeframe: tf}
		a.bars[pair] = a.fold(a.bars[pair], ts.Truncate(tf.Duration()), t)
	}
	return nil
}

func (a *CandleAggregator) fold(bars []models.Candle, bucket time.Time, t *models.Trade) []models.Candle {
	n := len(bars)
	if n == 0 || bucket.After(bars[n-1].Bucket) {
		bars = append(bars, models.Candle{
			Bucket: bucket, Symbol: t.Symbol,
			Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price, Volume: t.Volume,
		})
		if len(bars) > a.maxBars {
			bars = append(bars[:0:0], bars[len(bars)-a.maxBars:]...)
		}
		return bars
	}
	for i := n - 1; i >= 0; i-- {
		if bars[i].Bucket.Equal(bucket) {
			c := &bars[i]
			c.High = max(c.High, t.Price)
			c.Low = min(c.Low, t.Price)
			if i == n-1 {
				c.Close = t.Price
			}
			c.Volume += t.Volume
			return bars
		}
		if bars[i].Bucket.Before(bucket) {
			break
		}
	}
	return bars
}

// FetchCandles returns a copy of the buffered bars with bucket >= since,
// oldest first. The last bar may still be open.
func (a *CandleAggregator) FetchCandles(ctx context.Context, symbol models.Symbol, tf models.Timeframe, since time.Time) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !models.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	bars := a.bars[models.Pair{Symbol: symbol, Timeframe: tf}]
	out := make([]models.Candle, 0, len(bars))
	for _, c := range bars {
		if !c.Bucket.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}
