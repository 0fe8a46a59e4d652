package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLCV bar for a symbol on a timeframe.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"` // bar open (UTC, TF-aligned)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"` // base-asset volume
}

// Key returns "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// CloseTime returns the instant the bar closes.
func (c *Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.Timeframe.Duration())
}

// Closed reports whether the bar has fully closed at now.
func (c *Candle) Closed(now time.Time) bool {
	return !c.CloseTime().After(now)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Field returns one OHLCV field by name. Unknown names fall back to close.
func (c *Candle) Field(name string) float64 {
	switch name {
	case "open":
		return c.Open
	case "high":
		return c.High
	case "low":
		return c.Low
	case "volume":
		return c.Volume
	default:
		return c.Close
	}
}
