package models

import (
	"fmt"
	"strings"
	"time"
)

// Symbol is one of the fixed instruments the analysis covers.
type Symbol string

const (
	EURUSD Symbol = "EURUSD"
	GBPUSD Symbol = "GBPUSD"
	USDJPY Symbol = "USDJPY"
	XAUUSD Symbol = "XAUUSD"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TFM15 Timeframe = "M15"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
)

// Symbols returns the fixed symbol enumeration in display order.
func Symbols() []Symbol { return []Symbol{EURUSD, GBPUSD, USDJPY, XAUUSD} }

// Timeframes returns the fixed timeframe enumeration, finest first.
func Timeframes() []Timeframe { return []Timeframe{TFM15, TFH1, TFH4} }

// IsValidSymbol returns true if s belongs to the symbol enumeration.
func IsValidSymbol(s Symbol) bool {
	switch s {
	case EURUSD, GBPUSD, USDJPY, XAUUSD:
		return true
	default:
		return false
	}
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TFM15, TFH1, TFH4:
		return true
	default:
		return false
	}
}

// Duration returns the bar length of the timeframe, or 0 when unknown.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TFM15:
		return 15 * time.Minute
	case TFH1:
		return time.Hour
	case TFH4:
		return 4 * time.Hour
	default:
		return 0
	}
}

// ParseSymbol normalizes case and checks the enumeration.
func ParseSymbol(s string) (Symbol, error) {
	sym := Symbol(strings.ToUpper(strings.TrimSpace(s)))
	if !IsValidSymbol(sym) {
		return "", fmt.Errorf("unknown symbol %q", s)
	}
	return sym, nil
}

// ParseTimeframe normalizes case and checks the enumeration.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Pair is a (symbol, timeframe) combination drawn from the fixed enumerations.
type Pair struct {
	Symbol    Symbol    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

func (p Pair) String() string { return string(p.Symbol) + "/" + string(p.Timeframe) }

// Pairs builds the cartesian product of symbols and timeframes, symbol-major.
// Nil slices mean "every value of the enumeration".
func Pairs(symbols []Symbol, timeframes []Timeframe) []Pair {
	if len(symbols) == 0 {
		symbols = Symbols()
	}
	if len(timeframes) == 0 {
		timeframes = Timeframes()
	}
	out := make([]Pair, 0, len(symbols)*len(timeframes))
	for _, s := range symbols {
		for _, tf := range timeframes {
			out = append(out, Pair{Symbol: s, Timeframe: tf})
		}
	}
	return out
}
