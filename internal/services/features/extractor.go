package features

import (
	"math"

	"PatternDesk/internal/domain/models"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// MeanStd returns the mean and sample standard deviation of the last window
// values, or zeros when there are fewer than window values.
func MeanStd(xs []float64, window int) (float64, float64) {
	if window <= 1 || len(xs) < window {
		return 0, 0
	}
	sum, sum2 := 0.0, 0.0
	for _, x := range xs[len(xs)-window:] {
		sum += x
		sum2 += x * x
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// Shape is the geometry of one candle.
type Shape struct {
	Body        float64 // |close - open|
	Range       float64 // high - low
	UpperShadow float64
	LowerShadow float64
	Bullish     bool
	Bearish     bool
}

// ShapeOf computes the geometry of c.
func ShapeOf(c models.Candle) Shape {
	return Shape{
		Body:        math.Abs(c.Close - c.Open),
		Range:       c.High - c.Low,
		UpperShadow: c.High - math.Max(c.Open, c.Close),
		LowerShadow: math.Min(c.Open, c.Close) - c.Low,
		Bullish:     c.Close > c.Open,
		Bearish:     c.Close < c.Open,
	}
}

// AverageBody returns the mean body size of candles, or 0 for none.
func AverageBody(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += math.Abs(c.Close - c.Open)
	}
	return sum / float64(len(candles))
}
