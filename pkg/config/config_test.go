package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternDesk/internal/domain/models"
)

func TestParse_DefaultsFillGaps(t *testing.T) {
	c, err := Parse([]byte("reports:\n  dir: /data/reports\n"))
	require.NoError(t, err)

	assert.Equal(t, "/data/reports", c.Reports.Dir)
	assert.Equal(t, 3, c.Reports.WriteRetries)
	assert.Equal(t, "@every 15m", c.Producer.Schedule)
	assert.Equal(t, 15*time.Minute, c.Producer.RunInterval())
	assert.True(t, c.Producer.RunOnStart)
	assert.Equal(t, "builtin", c.Detector.Type)
	assert.Equal(t, 20.0, c.Dashboard.RateLimit.Capacity)
	assert.Equal(t, 168*time.Hour, c.Memory.TTL)

	pairs, err := c.Pairs()
	require.NoError(t, err)
	assert.Len(t, pairs, 12)
	assert.Equal(t, 30*time.Minute, c.Freshness().Threshold)
}

func TestParse_SubsetAndExplicitFalse(t *testing.T) {
	c, err := Parse([]byte(`
analysis:
  symbols: [eurusd, XAUUSD, EURUSD]
  timeframes: [h4]
producer:
  run_on_start: false
dashboard:
  stale_threshold: 1h
`))
	require.NoError(t, err)
	assert.False(t, c.Producer.RunOnStart)

	pairs, err := c.Pairs()
	require.NoError(t, err)
	assert.Equal(t, []models.Pair{
		{Symbol: models.EURUSD, Timeframe: models.TFH4},
		{Symbol: models.XAUUSD, Timeframe: models.TFH4},
	}, pairs)
	assert.Equal(t, time.Hour, c.Freshness().Threshold)
}

func TestFreshness_FollowsSchedule(t *testing.T) {
	cases := []struct {
		schedule string
		interval time.Duration
	}{
		{"@every 1h", time.Hour},
		{"@hourly", time.Hour},
		{"*/5 * * * *", 5 * time.Minute},
		{"0 */4 * * *", 4 * time.Hour},
		{"0 9,17 * * *", 16 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.schedule, func(t *testing.T) {
			c, err := Parse([]byte("producer:\n  schedule: \"" + tc.schedule + "\"\n"))
			require.NoError(t, err)
			assert.Equal(t, tc.interval, c.Producer.RunInterval())
			assert.Equal(t, 2*tc.interval, c.Freshness().Threshold)
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []string{
		"analysis:\n  symbols: [BTCUSD]\n",
		"analysis:\n  timeframes: [D1]\n",
		"analysis:\n  workers: 0\n",
		"reports:\n  dir: \"\"\n",
		"reports:\n  write_retries: 0\n",
		"producer:\n  schedule: \"every now and then\"\n",
		"source:\n  type: stream\n",
		"source:\n  type: csv\n",
		"detector:\n  type: http\n",
		"memory:\n  backend: disk\n",
		"kafka:\n  enabled: true\n",
		"logging:\n  collector:\n    enabled: true\n",
	}
	for _, body := range cases {
		_, err := Parse([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  type: stream\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err, "stream source needs an api key")

	t.Setenv("FINNHUB_API_KEY", "secret")
	t.Setenv("REPORTS_DIR", "/tmp/r")
	t.Setenv("SYMBOLS", "GBPUSD, USDJPY")
	t.Setenv("TIMEFRAMES", "M15")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Finnhub.APIKey)
	assert.Equal(t, "/tmp/r", c.Reports.Dir)
	assert.Equal(t, []string{"GBPUSD", "USDJPY"}, c.Analysis.Symbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "redis:6379", c.Redis.Addr)

	pairs, err := c.Pairs()
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestSampleConfigIsValid(t *testing.T) {
	_, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
}
