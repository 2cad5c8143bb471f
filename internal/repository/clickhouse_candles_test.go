package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternDesk/internal/domain/models"
)

func TestCandleTable(t *testing.T) {
	table, err := candleTable("markets", models.TFH4)
	require.NoError(t, err)
	assert.Equal(t, "markets.candles_h4", table)

	table, err = candleTable("", models.TFM15)
	require.NoError(t, err)
	assert.Equal(t, "candles_m15", table)

	_, err = candleTable("markets", "D1")
	assert.Error(t, err)
}

func TestCandleSchema(t *testing.T) {
	stmts := CandleSchema("markets")
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "CREATE DATABASE IF NOT EXISTS markets")
	assert.Contains(t, stmts[1], "markets.candles_m15")
	assert.Contains(t, stmts[3], "markets.candles_h4")
}

func TestReverseCandles(t *testing.T) {
	cs := []models.Candle{{Bucket: time.Unix(3, 0)}, {Bucket: time.Unix(2, 0)}, {Bucket: time.Unix(1, 0)}}
	reverseCandles(cs)
	assert.Equal(t, int64(1), cs[0].Bucket.Unix())
	assert.Equal(t, int64(3), cs[2].Bucket.Unix())
}
