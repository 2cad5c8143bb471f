package patterns

import (
	"context"
	"math"
	"time"

	"PatternDesk/internal/domain/models"
	"PatternDesk/internal/domain/service"
	"PatternDesk/internal/services/features"
)

const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Detection is the record the builtin detector emits for every match.
type Detection struct {
	Name      string    `json:"name"`
	Direction string    `json:"direction"`
	Index     int       `json:"index"`
	Time      time.Time `json:"time"`
	Strength  float64   `json:"strength"`
}

// window is the view a rule gets: the bars ending at the tested index plus
// the average body of the bars before them.
type window struct {
	bars    []models.Candle
	avgBody float64
}

func (w window) at(back int) models.Candle { return w.bars[len(w.bars)-1-back] }

type rule struct {
	name  string
	bars  int
	match func(w window) (direction string, strength float64, ok bool)
}

// CandlestickDetector is the native pattern detector. It tests every rule
// at each of the most recent lookback bars.
type CandlestickDetector struct {
	lookback    int
	bodyWindow  int
	spikeWindow int
	spikeZ      float64
	rules       []rule
}

var _ service.PatternDetector = (*CandlestickDetector)(nil)

type Option func(*CandlestickDetector)

// WithLookback sets how many of the newest bars are scanned.
func WithLookback(n int) Option {
	return func(d *CandlestickDetector) {
		if n > 0 {
			d.lookback = n
		}
	}
}

// WithSpikeThreshold sets the z-score and return window of the volatility
// spike rule.
func WithSpikeThreshold(z float64, window int) Option {
	return func(d *CandlestickDetector) {
		if z > 0 {
			d.spikeZ = z
		}
		if window > 1 {
			d.spikeWindow = window
		}
	}
}

// NewCandlestickDetector builds the detector with its fourteen rules.
func NewCandlestickDetector(opts ...Option) *CandlestickDetector {
	d := &CandlestickDetector{lookback: 20, bodyWindow: 10, spikeWindow: 20, spikeZ: 3}
	for _, opt := range opts {
		opt(d)
	}
	d.rules = []rule{
		{"doji", 1, doji},
		{"hammer", 1, hammer},
		{"shooting_star", 1, shootingStar},
		{"bullish_engulfing", 2, bullishEngulfing},
		{"bearish_engulfing", 2, bearishEngulfing},
		{"inside_bar", 2, insideBar},
		{"outside_bar", 2, outsideBar},
		{"piercing_line", 2, piercingLine},
		{"dark_cloud_cover", 2, darkCloudCover},
		{"morning_star", 3, morningStar},
		{"evening_star", 3, eveningStar},
		{"three_white_soldiers", 3, threeWhiteSoldiers},
		{"three_black_crows", 3, threeBlackCrows},
	}
	return d
}

// Detect scans candles (oldest first) and returns matches ordered by index,
// then rule order. Fewer bars than a rule needs is not an error.
func (d *CandlestickDetector) Detect(ctx context.Context, _ models.Symbol, _ models.Timeframe, candles []models.Candle) ([]models.Pattern, error) {
	var found []Detection
	start := max(0, len(candles)-d.lookback)
	returns := features.ComputeLogReturns(candles)

	for i := start; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := window{bars: candles[:i+1], avgBody: features.AverageBody(candles[max(0, i-d.bodyWindow):i])}
		for _, r := range d.rules {
			if i+1 < r.bars {
				continue
			}
			if dir, strength, ok := r.match(w); ok {
				found = append(found, detection(r.name, dir, i, candles[i], strength))
			}
		}
		if dir, strength, ok := d.volatilitySpike(returns, i); ok {
			found = append(found, detection("volatility_spike", dir, i, candles[i], strength))
		}
	}

	out := make([]models.Pattern, 0, len(found))
	for _, f := range found {
		p, err := models.NewPattern(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func detection(name, dir string, i int, c models.Candle, strength float64) Detection {
	return Detection{Name: name, Direction: dir, Index: i, Time: c.Bucket.UTC(), Strength: round3(clamp01(strength))}
}

// volatilitySpike flags bar i when its log return sits more than spikeZ
// standard deviations away from the mean of the preceding spikeWindow returns.
func (d *CandlestickDetector) volatilitySpike(returns []float64, i int) (string, float64, bool) {
	ri := i - 1 // return ending at bar i
	if ri < d.spikeWindow {
		return "", 0, false
	}
	mean, sd := features.MeanStd(returns[:ri], d.spikeWindow)
	if sd == 0 {
		return "", 0, false
	}
	z := (returns[ri] - mean) / sd
	if math.Abs(z) <= d.spikeZ {
		return "", 0, false
	}
	dir := Bullish
	if z < 0 {
		dir = Bearish
	}
	return dir, math.Abs(z) / (2 * d.spikeZ), true
}

func doji(w window) (string, float64, bool) {
	s := features.ShapeOf(w.at(0))
	if s.Range <= 0 || s.Body > 0.1*s.Range {
		return "", 0, false
	}
	return Neutral, 1 - s.Body/(0.1*s.Range), true
}

func hammer(w window) (string, float64, bool) {
	s := features.ShapeOf(w.at(0))
	if s.Body <= 0 || s.LowerShadow < 2*s.Body || s.UpperShadow > 0.5*s.Body {
		return "", 0, false
	}
	return Bullish, s.LowerShadow / s.Range, true
}

func shootingStar(w window) (string, float64, bool) {
	s := features.ShapeOf(w.at(0))
	if s.Body <= 0 || s.UpperShadow < 2*s.Body || s.LowerShadow > 0.5*s.Body {
		return "", 0, false
	}
	return Bearish, s.UpperShadow / s.Range, true
}

func bullishEngulfing(w window) (string, float64, bool) {
	prev, cur := w.at(1), w.at(0)
	ps, cs := features.ShapeOf(prev), features.ShapeOf(cur)
	if !ps.Bearish || !cs.Bullish || cur.Open > prev.Close || cur.Close < prev.Open || cs.Body <= ps.Body {
		return "", 0, false
	}
	return Bullish, bodyStrength(cs.Body, w.avgBody), true
}

func bearishEngulfing(w window) (string, float64, bool) {
	prev, cur := w.at(1), w.at(0)
	ps, cs := features.ShapeOf(prev), features.ShapeOf(cur)
	if !ps.Bullish || !cs.Bearish || cur.Open < prev.Close || cur.Close > prev.Open || cs.Body <= ps.Body {
		return "", 0, false
	}
	return Bearish, bodyStrength(cs.Body, w.avgBody), true
}

func insideBar(w window) (string, float64, bool) {
	prev, cur := w.at(1), w.at(0)
	if cur.High >= prev.High || cur.Low <= prev.Low {
		return "", 0, false
	}
	pr := prev.High - prev.Low
	return Neutral, 1 - (cur.High-cur.Low)/pr, true
}

func outsideBar(w window) (string, float64, bool) {
	prev, cur := w.at(1), w.at(0)
	if cur.High <= prev.High || cur.Low >= prev.Low {
		return "", 0, false
	}
	dir := Neutral
	switch s := features.ShapeOf(cur); {
	case s.Bullish:
		dir = Bullish
	case s.Bearish:
		dir = Bearish
	}
	return dir, 1 - (prev.High-prev.Low)/(cur.High-cur.Low), true
}

func piercingLine(w window) (string, float64, bool) {
	prev, cur := w.at(1), w.at(0)
	ps, cs := features.ShapeOf(prev), features.ShapeOf(cur)
	mid := (prev.Open + prev.Close) / 2
	if !ps.Bearish || !cs.Bullish || cur.Open >= prev.Close || cur.Close <= mid || cur.Close >= prev.Open {
		return "", 0, false
	}
	return Bullish, (cur.Close - mid) / (prev.Open - mid), true
}

func darkCloudCover(w window) (string, float64, bool) {
	prev, cur := w.at(1), w.at(0)
	ps, cs := features.ShapeOf(prev), features.ShapeOf(cur)
	mid := (prev.Open + prev.Close) / 2
	if !ps.Bullish || !cs.Bearish || cur.Open <= prev.Close || cur.Close >= mid || cur.Close <= prev.Open {
		return "", 0, false
	}
	return Bearish, (mid - cur.Close) / (mid - prev.Open), true
}

func morningStar(w window) (string, float64, bool) {
	first, star, last := w.at(2), w.at(1), w.at(0)
	fs, ss, ls := features.ShapeOf(first), features.ShapeOf(star), features.ShapeOf(last)
	if !fs.Bearish || !ls.Bullish || ss.Body > 0.3*fs.Body {
		return "", 0, false
	}
	if math.Max(star.Open, star.Close) > first.Close || last.Close <= (first.Open+first.Close)/2 {
		return "", 0, false
	}
	return Bullish, ls.Body / fs.Body, true
}

func eveningStar(w window) (string, float64, bool) {
	first, star, last := w.at(2), w.at(1), w.at(0)
	fs, ss, ls := features.ShapeOf(first), features.ShapeOf(star), features.ShapeOf(last)
	if !fs.Bullish || !ls.Bearish || ss.Body > 0.3*fs.Body {
		return "", 0, false
	}
	if math.Min(star.Open, star.Close) < first.Close || last.Close >= (first.Open+first.Close)/2 {
		return "", 0, false
	}
	return Bearish, ls.Body / fs.Body, true
}

func threeWhiteSoldiers(w window) (string, float64, bool) {
	total := 0.0
	for back := 2; back >= 0; back-- {
		c := w.at(back)
		s := features.ShapeOf(c)
		if !s.Bullish || s.UpperShadow > s.Body {
			return "", 0, false
		}
		if back < 2 {
			prev := w.at(back + 1)
			if c.Close <= prev.Close || c.Open < prev.Open || c.Open > prev.Close {
				return "", 0, false
			}
		}
		total += s.Body
	}
	return Bullish, bodyStrength(total/3, w.avgBody), true
}

func threeBlackCrows(w window) (string, float64, bool) {
	total := 0.0
	for back := 2; back >= 0; back-- {
		c := w.at(back)
		s := features.ShapeOf(c)
		if !s.Bearish || s.LowerShadow > s.Body {
			return "", 0, false
		}
		if back < 2 {
			prev := w.at(back + 1)
			if c.Close >= prev.Close || c.Open > prev.Open || c.Open < prev.Close {
				return "", 0, false
			}
		}
		total += s.Body
	}
	return Bearish, bodyStrength(total/3, w.avgBody), true
}

// bodyStrength scores a body against the recent average: twice the average
// or more is full strength.
func bodyStrength(body, avg float64) float64 {
	if avg <= 0 {
		return 1
	}
	return body / (2 * avg)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
