package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	reportsWritten *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	skipped        prometheus.Counter
	runs           *prometheus.CounterVec
	runPairs       *prometheus.GaugeVec
	runDuration    prometheus.Histogram
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New registers the recorder's collectors on reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		reportsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterndesk_reports_written_total",
				Help: "Run reports published, by pair",
			},
			[]string{"symbol", "timeframe"},
		),
		writeFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterndesk_report_write_failures_total",
				Help: "Report publications that failed, by failing step",
			},
			[]string{"op"},
		),
		skipped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "patterndesk_reports_skipped_malformed_total",
				Help: "Malformed report files skipped by readers",
			},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterndesk_runs_total",
				Help: "Completed analysis runs by outcome",
			},
			[]string{"outcome"},
		),
		runPairs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patterndesk_last_run",
				Help: "Counters of the most recent run",
			},
			[]string{"field"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "patterndesk_run_duration_seconds",
				Help:    "Wall time of one analysis run",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patterndesk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patterndesk_last_price",
				Help: "Last reported price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patterndesk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordReportWritten(symbol, timeframe string) {
	r.reportsWritten.WithLabelValues(symbol, timeframe).Inc()
}

func (r *Recorder) RecordWriteFailure(op string) {
	r.writeFailures.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordSkipped(n int) {
	r.skipped.Add(float64(n))
}

// RecordRun records one finished run. A run with succeeded < attempted
// counts as partial.
func (r *Recorder) RecordRun(attempted, succeeded, patternTotal int, seconds float64) {
	outcome := "complete"
	switch {
	case succeeded == 0 && attempted > 0:
		outcome = "failed"
	case succeeded < attempted:
		outcome = "partial"
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runPairs.WithLabelValues("attempted").Set(float64(attempted))
	r.runPairs.WithLabelValues("succeeded").Set(float64(succeeded))
	r.runPairs.WithLabelValues("pattern_total").Set(float64(patternTotal))
	r.runDuration.Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
