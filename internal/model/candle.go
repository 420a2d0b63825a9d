package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle represents an OHLCV bar for a single instrument on one timeframe.
// Prices are quoted in the pair's quote currency (e.g. USD for BTC/USD).
type Candle struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	TS       time.Time `json:"ts"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Forming  bool      `json:"forming,omitempty"` // true if the bucket is still open
}

// Key returns a unique key for this candle's instrument: "exchange:symbol".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Symbol
}

// StreamKey returns the Redis key prefix for this candle: "candle:{TF}s:{exchange}:{symbol}".
func (c *Candle) StreamKey() string {
	return "candle:" + strconv.Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ClosePrice builds a flat candle from a single price. Used when only a
// close series is available (batch calculations over plain value lists).
func ClosePrice(price float64) Candle {
	return Candle{Open: price, High: price, Low: price, Close: price}
}
