package analytics

import (
	"context"
	"fmt"
	"time"

	"PatternDesk/internal/domain/models"
	"PatternDesk/internal/domain/service"
	detmetrics "PatternDesk/internal/service/metrics"
)

const detectPath = "/patterns/detect"

// HTTPPatternDetector delegates detection to an external service and passes
// the returned pattern records through untouched.
type HTTPPatternDetector struct {
	*HTTPServiceBase
	attempts int
}

var _ service.PatternDetector = (*HTTPPatternDetector)(nil)

// NewHTTPPatternDetector posts to base.baseURL + /patterns/detect.
func NewHTTPPatternDetector(base *HTTPServiceBase, attempts int) *HTTPPatternDetector {
	if attempts <= 0 {
		attempts = 1
	}
	return &HTTPPatternDetector{HTTPServiceBase: base, attempts: attempts}
}

type detectCandle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type detectReq struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Candles   []detectCandle `json:"candles"`
}

type detectResp struct {
	Patterns []models.Pattern `json:"patterns"`
}

func (d *HTTPPatternDetector) Detect(ctx context.Context, symbol models.Symbol, tf models.Timeframe, candles []models.Candle) ([]models.Pattern, error) {
	start := time.Now()
	req := detectReq{Symbol: string(symbol), Timeframe: string(tf), Candles: make([]detectCandle, len(candles))}
	for i, c := range candles {
		req.Candles[i] = detectCandle{Time: c.Bucket.UTC(), Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}

	var resp detectResp
	err := d.PostJSONWithRetry(ctx, detectPath, req, &resp, d.attempts)
	detmetrics.DetectorLatency.WithLabelValues("http", string(tf)).Observe(time.Since(start).Seconds())
	if err != nil {
		detmetrics.DetectorErrors.WithLabelValues("http").Inc()
		return nil, fmt.Errorf("detect %s/%s: %w", symbol, tf, err)
	}
	if resp.Patterns == nil {
		resp.Patterns = []models.Pattern{}
	}
	detmetrics.DetectedPatterns.WithLabelValues("http", string(symbol)).Add(float64(len(resp.Patterns)))
	return resp.Patterns, nil
}
