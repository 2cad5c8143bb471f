package service

import (
	"context"

	"PatternDesk/internal/domain/models"
)

// PatternDetector maps a candle sequence to opaque pattern records, ordered
// as the detector reports them.
type PatternDetector interface {
	Detect(ctx context.Context, symbol models.Symbol, tf models.Timeframe, candles []models.Candle) ([]models.Pattern, error)
}
