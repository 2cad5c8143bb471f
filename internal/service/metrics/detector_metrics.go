package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"PatternDesk/internal/domain/models"
	"PatternDesk/internal/domain/service"
)

var (
	once sync.Once

	DetectorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patterndesk",
			Subsystem: "detector",
			Name:      "latency_seconds",
			Help:      "Latency of pattern detection calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"detector", "timeframe"},
	)

	DetectorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patterndesk",
			Subsystem: "detector",
			Name:      "errors_total",
			Help:      "Pattern detection failures",
		},
		[]string{"detector"},
	)

	DetectedPatterns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patterndesk",
			Subsystem: "detector",
			Name:      "patterns_total",
			Help:      "Patterns returned by detectors, by symbol",
		},
		[]string{"detector", "symbol"},
	)
)

// Register adds the detector collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(DetectorLatency, DetectorErrors, DetectedPatterns)
	})
}

type instrumented struct {
	name string
	next service.PatternDetector
}

// Instrument records detector metrics around every Detect call of d.
func Instrument(name string, d service.PatternDetector) service.PatternDetector {
	return &instrumented{name: name, next: d}
}

func (i *instrumented) Detect(ctx context.Context, symbol models.Symbol, tf models.Timeframe, candles []models.Candle) ([]models.Pattern, error) {
	start := time.Now()
	out, err := i.next.Detect(ctx, symbol, tf, candles)
	DetectorLatency.WithLabelValues(i.name, string(tf)).Observe(time.Since(start).Seconds())
	if err != nil {
		DetectorErrors.WithLabelValues(i.name).Inc()
		return nil, err
	}
	DetectedPatterns.WithLabelValues(i.name, string(symbol)).Add(float64(len(out)))
	return out, nil
}
