package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// IndicatorResult holds a computed indicator value for a specific symbol + TF.
type IndicatorResult struct {
	Name       string             `json:"name"` // e.g. "SMA_20", "MACD_12_26_9"
	Symbol     string             `json:"symbol"`
	Exchange   string             `json:"exchange"`
	TF         int                `json:"tf"` // timeframe in seconds
	Value      float64            `json:"value"`
	Components map[string]float64 `json:"components,omitempty"` // extra lines (signal, upper, %D, ...)
	TS         time.Time          `json:"ts"`    // candle timestamp that produced this value
	Ready      bool               `json:"ready"` // true when indicator has enough data
	Live       bool               `json:"live"`  // true for preview values from forming candles
}

// Key returns "exchange:symbol".
func (r *IndicatorResult) Key() string {
	return r.Exchange + ":" + r.Symbol
}

// Channel returns the pub/sub channel for this result: "ind:{name}:{TF}s:{exchange}:{symbol}".
func (r *IndicatorResult) Channel() string {
	return "ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Symbol
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
