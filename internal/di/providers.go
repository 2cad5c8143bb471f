package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"PatternDesk/internal/domain/models"
	"PatternDesk/internal/domain/repository"
	"PatternDesk/internal/domain/service"
	"PatternDesk/internal/handler/api"
	mid "PatternDesk/internal/middleware"
	internalrepo "PatternDesk/internal/repository"
	"PatternDesk/internal/service/finnhub"
	detmetrics "PatternDesk/internal/service/metrics"
	"PatternDesk/internal/service/ratelimit"
	"PatternDesk/internal/services/analytics"
	"PatternDesk/internal/services/patterns"
	"PatternDesk/internal/usecase"
	"PatternDesk/pkg/cache"
	pkgch "PatternDesk/pkg/clickhouse"
	"PatternDesk/pkg/config"
	xhttp "PatternDesk/pkg/http"
	pkgkafka "PatternDesk/pkg/kafka"
	applogger "PatternDesk/pkg/logger"
	"PatternDesk/pkg/metrics"
	"PatternDesk/pkg/server"
)

// ProvideRegistry creates the registry for application metrics. Go runtime
// and Kafka client metrics stay on the default registry.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	detmetrics.Register(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithDefaultTopic(cfg.Kafka.Topic),
		pkgkafka.WithPerPairOrdering(true),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreateTopics),
		pkgkafka.WithBatching(cfg.Kafka.BatchSize, 1<<20, cfg.Kafka.BatchTimeout),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With the collector enabled,
// errors are aggregated and shipped through the Kafka producer.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	c := cfg.Logging.Collector
	if !c.Enabled || producer == nil {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   c.Interval,
		CountThreshold: c.Threshold,
		Topic:          c.Topic,
		Publisher:      producer,
		IncludeWarn:    c.Warnings,
	})
	return l, l.RemoveCollector, nil
}

// ProvidePairs returns the configured analysis pairs.
func ProvidePairs(cfg *config.Config) ([]models.Pair, error) {
	return cfg.Pairs()
}

// ProvideReportStore creates the file report store. It is the only writer
// and reader of the report directory.
func ProvideReportStore(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *internalrepo.FileReportStore {
	return internalrepo.NewFileReportStore(cfg.Reports.Dir,
		internalrepo.WithUniqueRunIDs(cfg.Reports.UniqueRunIDs),
		internalrepo.WithStoreLogger(l.With(applogger.String("component", "reports"))),
		internalrepo.WithStoreMetrics(m),
	)
}

// CandleFeed is the producer candle source plus the live collector that
// fills it when the source is a stream.
type CandleFeed struct {
	Source    repository.CandleSource
	Collector *usecase.StreamCollector
}

// ProvideCandleFeed connects the configured candle source. Modes that never
// analyse get an empty feed so no connection is opened.
func ProvideCandleFeed(cfg *config.Config, mode server.Mode, pairs []models.Pair, l *applogger.Logger, m repository.Metrics) (*CandleFeed, func(), error) {
	if !mode.Produces() {
		return &CandleFeed{}, func() {}, nil
	}

	switch cfg.Source.Type {
	case "stream":
		if mode == server.ModeOnce {
			return nil, nil, fmt.Errorf("source %q needs a long-running producer, not mode %q", cfg.Source.Type, mode)
		}
		tickers := make(map[string]models.Symbol, len(cfg.Finnhub.Tickers))
		for ticker, sym := range cfg.Finnhub.Tickers {
			tickers[ticker] = models.Symbol(sym)
		}
		if len(tickers) == 0 {
			tickers = nil
		}
		stream := finnhub.New(cfg.Finnhub.APIKey, cfg.Finnhub.WebSocketURL, tickers,
			cfg.Finnhub.ReconnectDelay, cfg.Finnhub.PingInterval,
			l.With(applogger.String("component", "finnhub")))
		agg := internalrepo.NewCandleAggregator(timeframesOf(pairs), cfg.Source.MaxBars)
		pipe := mid.NewRealtimePipeline(agg, m, mid.WithMaxRPS(cfg.Finnhub.MaxRPS))
		collector := usecase.NewStreamCollector(stream, pipe, m, l.With(applogger.String("component", "collector")))
		return &CandleFeed{Source: agg, Collector: collector}, func() {}, nil

	default:
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithCompression(cfg.ClickHouse.Compress),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if cfg.ClickHouse.InitSchema {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Database)); err != nil {
				_ = client.Close()
				return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
			}
		}
		src := internalrepo.NewCHCandleSource(client, cfg.Source.MaxBars)
		src.SetLogger(l.With(applogger.String("component", "clickhouse")))
		return &CandleFeed{Source: src}, func() { _ = client.Close() }, nil
	}
}

func timeframesOf(pairs []models.Pair) []models.Timeframe {
	var out []models.Timeframe
	seen := make(map[models.Timeframe]bool)
	for _, p := range pairs {
		if !seen[p.Timeframe] {
			seen[p.Timeframe] = true
			out = append(out, p.Timeframe)
		}
	}
	return out
}

// ProvideDetector creates the pattern detector named by detector.type.
func ProvideDetector(cfg *config.Config) service.PatternDetector {
	d := cfg.Detector
	if d.Type == "http" {
		return analytics.NewHTTPPatternDetector(analytics.NewHTTPServiceBase(d.URL, d.Timeout), d.Attempts)
	}
	return detmetrics.Instrument("builtin", patterns.NewCandlestickDetector(
		patterns.WithLookback(d.Lookback),
		patterns.WithSpikeThreshold(d.SpikeZ, d.SpikeWindow),
	))
}

// ProvideCache creates the pattern memory backend. Status mode never reads
// pattern memory and gets an in-process cache.
func ProvideCache(cfg *config.Config, mode server.Mode) (cache.Service, func(), error) {
	var (
		c   cache.Service
		err error
	)
	backend := cfg.Memory.Backend
	if mode == server.ModeStatus {
		backend = "memory"
	}
	switch backend {
	case "redis", "layered":
		var rc *cache.RedisCache
		rc, err = cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Redis.Addr),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
			cache.WithRedisPoolSize(cfg.Redis.PoolSize),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		c = rc
		if backend == "layered" {
			c = cache.NewLayeredCache(rc,
				cache.WithLayeredMemorySize(cfg.Memory.MaxEntries),
				cache.WithLayeredMemoryTTL(time.Minute),
			)
		}
	default:
		c = cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Memory.MaxEntries))
	}
	return c, func() { _ = c.Close() }, nil
}

func ProvidePatternMemory(cfg *config.Config, c cache.Service) repository.PatternMemory {
	return internalrepo.NewCachePatternMemory(c, cfg.Memory.HistorySize, cfg.Memory.TTL)
}

// ProvideEventPublisher announces reports on Kafka, or drops them. The
// producer is closed by its own provider.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideRunner creates the batch runner, or nil when the mode never
// analyses.
func ProvideRunner(
	cfg *config.Config,
	mode server.Mode,
	feed *CandleFeed,
	detector service.PatternDetector,
	store *internalrepo.FileReportStore,
	pairs []models.Pair,
	memory repository.PatternMemory,
	events repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.AnalysisRunner {
	if !mode.Produces() {
		return nil
	}
	return usecase.NewAnalysisRunner(feed.Source, detector, store, pairs,
		usecase.RunnerConfig{
			Lookback:     cfg.Analysis.Lookback,
			Workers:      cfg.Analysis.Workers,
			PairTimeout:  cfg.Analysis.PairTimeout,
			WriteRetries: cfg.Reports.WriteRetries,
		},
		usecase.WithPatternMemory(memory),
		usecase.WithEventPublisher(events),
		usecase.WithRunnerMetrics(m),
		usecase.WithRunnerLogger(l.With(applogger.String("component", "runner"))),
	)
}

// ProvideScheduler creates the producer scheduler for scheduling modes.
func ProvideScheduler(cfg *config.Config, mode server.Mode, runner *usecase.AnalysisRunner, l *applogger.Logger) (*usecase.Scheduler, error) {
	if !mode.Schedules() {
		return nil, nil
	}
	return usecase.NewScheduler(cfg.Producer.Schedule, runner, l.With(applogger.String("component", "scheduler")))
}

func ProvideDashboard(cfg *config.Config, store *internalrepo.FileReportStore, pairs []models.Pair) *usecase.DashboardUseCase {
	return usecase.NewDashboardUseCase(store, pairs, cfg.Freshness())
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideReportsHandler creates the dashboard API. Pattern memory is only
// exposed when it is shared with the producer through Redis.
func ProvideReportsHandler(
	cfg *config.Config,
	l *applogger.Logger,
	store *internalrepo.FileReportStore,
	dashboard *usecase.DashboardUseCase,
	memory repository.PatternMemory,
	limiter *ratelimit.Limiter,
) *api.ReportsHandler {
	opts := []api.HandlerOption{
		api.WithRateLimit(limiter, api.RateLimit{
			Capacity:     cfg.Dashboard.RateLimit.Capacity,
			RefillPerSec: cfg.Dashboard.RateLimit.RefillPerSec,
		}),
	}
	if cfg.Memory.Backend != "memory" {
		opts = append(opts, api.WithPatternMemory(memory))
	}
	return api.NewReportsHandler(l.With(applogger.String("component", "api")), store, dashboard, opts...)
}

// ProvideHTTPServer creates the echo server for serving modes.
func ProvideHTTPServer(cfg *config.Config, mode server.Mode, l *applogger.Logger, reg *prometheus.Registry, h *api.ReportsHandler) *xhttp.Server {
	if !mode.Serves() {
		return nil
	}
	return xhttp.NewServer(l.With(applogger.String("component", "http")), []xhttp.Handler{h},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(reg, prometheus.Gatherers{reg, prometheus.DefaultGatherer}),
	)
}

// ProvideApp creates the application for mode.
func ProvideApp(
	cfg *config.Config,
	mode server.Mode,
	l *applogger.Logger,
	feed *CandleFeed,
	runner *usecase.AnalysisRunner,
	scheduler *usecase.Scheduler,
	dashboard *usecase.DashboardUseCase,
	httpServer *xhttp.Server,
	limiter *ratelimit.Limiter,
) *server.App {
	return server.New(cfg, mode, l, server.Components{
		Runner:     runner,
		Scheduler:  scheduler,
		Collector:  feed.Collector,
		Dashboard:  dashboard,
		HTTPServer: httpServer,
		Limiter:    limiter,
	})
}
