package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a canonical candle interval label, e.g. "1m", "4h", "1d".
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF2h:  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF6h:  6 * time.Hour,
	TF8h:  8 * time.Hour,
	TF12h: 12 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// minute-count aliases used by some charting clients ("60" = 1h, "D" = 1d)
var tfAliases = map[string]Timeframe{
	"1": TF1m, "3": TF3m, "5": TF5m, "15": TF15m, "30": TF30m,
	"60": TF1h, "120": TF2h, "240": TF4h, "360": TF6h, "480": TF8h, "720": TF12h,
	"d": TF1d, "1440": TF1d, "w": TF1w,
	"1min": TF1m, "5min": TF5m, "15min": TF15m, "30min": TF30m,
	"1hour": TF1h, "4hour": TF4h, "1day": TF1d, "1week": TF1w,
}

// ParseTimeframe normalizes a client-supplied interval string.
func ParseTimeframe(s string) (Timeframe, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", fmt.Errorf("%w: timeframe is required", ErrValidation)
	}
	if _, ok := tfDurations[Timeframe(v)]; ok {
		return Timeframe(v), nil
	}
	if tf, ok := tfAliases[v]; ok {
		return tf, nil
	}
	return "", fmt.Errorf("%w: unsupported timeframe %q", ErrValidation, s)
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

// Duration returns the bar length, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return tfDurations[tf]
}

// LastClosedBar returns the open time of the newest bar that has fully
// closed at now.
func (tf Timeframe) LastClosedBar(now time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return time.Time{}
	}
	return now.UTC().Truncate(d).Add(-d)
}

// Bars returns how many whole bars separate from and to (to >= from).
func (tf Timeframe) Bars(from, to time.Time) int64 {
	d := tf.Duration()
	if d == 0 {
		return 0
	}
	return int64(to.Sub(from) / d)
}
