package models

import "time"

// Candle represents an OHLCV bar for one symbol and timeframe.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol Symbol    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Trade is a single print received from a streaming market feed.
// Timestamp is unix seconds.
type Trade struct {
	Symbol    Symbol
	Timestamp int64
	Price     float64
	Volume    float64
}
