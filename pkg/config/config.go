package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"PatternDesk/internal/domain/models"
)

type Config struct {
	Environment string          `yaml:"environment" default:"development"`
	Reports     ReportsConfig   `yaml:"reports"`
	Analysis    AnalysisConfig  `yaml:"analysis"`
	Producer    ProducerConfig  `yaml:"producer"`
	Dashboard   DashboardConfig `yaml:"dashboard"`
	Server      ServerConfig    `yaml:"server"`
	Logging     LoggingConfig   `yaml:"logging"`
	Source      SourceConfig    `yaml:"source"`
	ClickHouse  ClickHouse      `yaml:"clickhouse"`
	Finnhub     FinnhubConfig   `yaml:"finnhub"`
	Detector    DetectorConfig  `yaml:"detector"`
	Memory      MemoryConfig    `yaml:"memory"`
	Redis       RedisConfig     `yaml:"redis"`
	Kafka       KafkaConfig     `yaml:"kafka"`
}

type ReportsConfig struct {
	Dir          string `yaml:"dir" default:"./reports"`
	UniqueRunIDs bool   `yaml:"unique_run_ids"`
	WriteRetries int    `yaml:"write_retries" default:"3"`
}

// AnalysisConfig selects the analysed pairs. Empty lists mean the whole
// enumeration.
type AnalysisConfig struct {
	Symbols     []string      `yaml:"symbols"`
	Timeframes  []string      `yaml:"timeframes"`
	Lookback    time.Duration `yaml:"lookback" default:"168h"`
	Workers     int           `yaml:"workers" default:"4"`
	PairTimeout time.Duration `yaml:"pair_timeout" default:"30s"`
}

type ProducerConfig struct {
	Schedule   string `yaml:"schedule" default:"@every 15m"`
	RunOnStart bool   `yaml:"run_on_start" default:"true"`
}

// intervalSamples is how many consecutive fire gaps RunInterval inspects.
const intervalSamples = 8

// RunInterval is the longest gap between consecutive runs of Schedule over
// its next few fires, so uneven schedules (weekday-only, hourly windows) are
// never reported stale between two expected runs. It is 0 for an invalid
// schedule.
func (p ProducerConfig) RunInterval() time.Duration {
	sched, err := cron.ParseStandard(p.Schedule)
	if err != nil {
		return 0
	}
	var longest time.Duration
	prev := sched.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	for i := 0; i < intervalSamples; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		longest = max(longest, next.Sub(prev))
		prev = next
	}
	return longest
}

type DashboardConfig struct {
	// StaleThreshold of 0 means twice the gap between scheduled runs.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	RateLimit      struct {
		Capacity     float64 `yaml:"capacity" default:"20"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"10"`
	} `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORS            bool          `yaml:"cors" default:"true"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" default:"info"`
	Format    string `yaml:"format" default:"console"`
	Output    string `yaml:"output" default:"stdout"`
	Collector struct {
		Enabled   bool          `yaml:"enabled"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
		Topic     string        `yaml:"topic" default:"patterndesk.logs"`
		Warnings  bool          `yaml:"warnings"`
	} `yaml:"collector"`
}

type SourceConfig struct {
	Type    string `yaml:"type" default:"clickhouse"` // clickhouse or stream
	MaxBars int    `yaml:"max_bars" default:"500"`
}

type ClickHouse struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"market"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	Compress         bool          `yaml:"compress" default:"true"`
	InitSchema       bool          `yaml:"init_schema"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type FinnhubConfig struct {
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	MaxRPS         int           `yaml:"max_rps" default:"20"`
	// Tickers maps feed tickers to symbols; empty uses the OANDA defaults.
	Tickers map[string]string `yaml:"tickers"`
}

type DetectorConfig struct {
	Type        string        `yaml:"type" default:"builtin"` // builtin or http
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout" default:"3s"`
	Attempts    int           `yaml:"attempts" default:"2"`
	Lookback    int           `yaml:"lookback" default:"20"`
	SpikeZ      float64       `yaml:"spike_z" default:"3"`
	SpikeWindow int           `yaml:"spike_window" default:"20"`
}

type MemoryConfig struct {
	Backend     string        `yaml:"backend" default:"memory"` // memory, redis, layered
	HistorySize int           `yaml:"history_size" default:"50"`
	TTL         time.Duration `yaml:"ttl" default:"168h"`
	MaxEntries  int           `yaml:"max_entries" default:"1000"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"patterndesk"`
}

type KafkaConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers"`
	Topic            string        `yaml:"topic" default:"patterndesk.reports"`
	Compression      string        `yaml:"compression" default:"snappy"`
	RequiredAcks     int           `yaml:"required_acks" default:"1"`
	MaxAttempts      int           `yaml:"max_attempts" default:"3"`
	AutoCreateTopics bool          `yaml:"auto_create_topics"`
	BatchSize        int           `yaml:"batch_size" default:"100"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" default:"200ms"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	// Async publishing never blocks a run on the broker; errors are dropped.
	Async bool `yaml:"async"`
}

// Default returns a configuration made only of default values.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables before validating.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := parse(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("REPORTS_DIR"); v != "" {
		c.Reports.Dir = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Analysis.Symbols = splitList(v)
	}
	if v := getenv("TIMEFRAMES"); v != "" {
		c.Analysis.Timeframes = splitList(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Reports.Dir == "" {
		return fmt.Errorf("reports.dir is required")
	}
	if c.Reports.WriteRetries < 1 {
		return fmt.Errorf("reports.write_retries must be >= 1")
	}
	if _, err := c.Pairs(); err != nil {
		return err
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis.workers must be >= 1")
	}
	if _, err := cron.ParseStandard(c.Producer.Schedule); err != nil {
		return fmt.Errorf("producer.schedule: %w", err)
	}
	switch c.Source.Type {
	case "clickhouse":
	case "stream":
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required for source.type=stream")
		}
		for ticker, sym := range c.Finnhub.Tickers {
			if _, err := models.ParseSymbol(sym); err != nil {
				return fmt.Errorf("finnhub.tickers[%s]: %w", ticker, err)
			}
		}
	default:
		return fmt.Errorf("source.type must be 'clickhouse' or 'stream', got '%s'", c.Source.Type)
	}
	switch c.Detector.Type {
	case "builtin":
	case "http":
		if c.Detector.URL == "" {
			return fmt.Errorf("detector.url is required for detector.type=http")
		}
	default:
		return fmt.Errorf("detector.type must be 'builtin' or 'http', got '%s'", c.Detector.Type)
	}
	switch c.Memory.Backend {
	case "memory", "redis", "layered":
	default:
		return fmt.Errorf("memory.backend must be 'memory', 'redis' or 'layered', got '%s'", c.Memory.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Logging.Collector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("logging.collector requires kafka to be enabled")
	}
	return nil
}

// Symbols returns the configured symbols, or the whole enumeration.
func (c *Config) Symbols() ([]models.Symbol, error) {
	out := make([]models.Symbol, 0, len(c.Analysis.Symbols))
	for _, s := range c.Analysis.Symbols {
		sym, err := models.ParseSymbol(s)
		if err != nil {
			return nil, fmt.Errorf("analysis.symbols: %w", err)
		}
		if !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	}
	if len(out) == 0 {
		return models.Symbols(), nil
	}
	return out, nil
}

// Pairs returns the analysed (symbol, timeframe) pairs, symbol-major.
func (c *Config) Pairs() ([]models.Pair, error) {
	symbols, err := c.Symbols()
	if err != nil {
		return nil, err
	}
	tfs := make([]models.Timeframe, 0, len(c.Analysis.Timeframes))
	for _, s := range c.Analysis.Timeframes {
		tf, err := models.ParseTimeframe(s)
		if err != nil {
			return nil, fmt.Errorf("analysis.timeframes: %w", err)
		}
		if !slices.Contains(tfs, tf) {
			tfs = append(tfs, tf)
		}
	}
	return models.Pairs(symbols, tfs), nil
}

// Freshness returns the dashboard staleness policy.
func (c *Config) Freshness() models.FreshnessPolicy {
	return models.NewFreshnessPolicy(c.Producer.RunInterval(), c.Dashboard.StaleThreshold)
}
