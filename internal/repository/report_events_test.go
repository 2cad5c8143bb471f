package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternDesk/internal/domain/models"
)

func TestReportEvent_Shape(t *testing.T) {
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	ev := reportEvent(models.Published[models.RunReport]{
		Path: "/data/reports/report_EURUSD_M15_20250602T100000.000Z.json",
		Record: models.RunReport{
			Symbol: models.EURUSD, Timeframe: models.TFM15, GeneratedAt: at,
			LastPrice: decimal.RequireFromString("1.1"), Patterns: []models.Pattern{pattern(t, "doji"), pattern(t, "hammer")},
			RunID: "r1",
		},
	})
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"report.published","file":"report_EURUSD_M15_20250602T100000.000Z.json",
		"run_id":"r1","symbol":"EURUSD","timeframe":"M15","generated_at":"2025-06-02T10:00:00Z","pattern_count":2}`, string(b))
}

func TestSummaryEvent_CarriesCounts(t *testing.T) {
	ev := summaryEvent(models.Published[models.SummaryReport]{
		Path:   "summary_x.json",
		Record: models.SummaryReport{RunTimestamp: time.Unix(0, 0), Attempted: 12, Succeeded: 11, PatternTotal: 14},
	})
	assert.Equal(t, EventSummaryPublished, ev.Type)
	require.NotNil(t, ev.Summary)
	assert.Equal(t, 11, ev.Summary.Succeeded)
	assert.Nil(t, ev.PatternCount)
}
