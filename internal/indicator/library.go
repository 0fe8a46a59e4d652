package indicator

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// ComponentValue is the output line of single-output indicators.
const ComponentValue = "value"

// Spec identifies one indicator computation. Output components of the same
// indicator share a Spec, so MACD(12,26,9).signal and .histogram compute once.
type Spec struct {
	Name     string
	Settings model.Settings
}

// Key returns the dedupe key, e.g. "RSI(14)", "MACD(12,26,9)".
func (s Spec) Key() string {
	st := s.Settings
	return model.Operand{Source: model.KindIndicator, Indicator: s.Name, Settings: &st}.Key()
}

// SpecOf returns the indicator spec behind an operand. ok is false for price
// and volume operands.
func SpecOf(op model.Operand) (Spec, bool) {
	if op.Source != model.KindIndicator {
		return Spec{}, false
	}
	s := Spec{Name: op.Indicator}
	if op.Settings != nil {
		s.Settings = *op.Settings
	}
	return s, true
}

// ComponentOf resolves the output line an operand reads.
func ComponentOf(op model.Operand) string {
	if op.Component != "" {
		return op.Component
	}
	if op.Indicator == "MACD" {
		return ComponentMACD
	}
	return ComponentValue
}

// Output maps component name to a series aligned index-for-index with the
// input candles. Bars before warm-up hold NaN.
type Output map[string][]float64

// At returns component at bar i; ok is false before warm-up or out of range.
func (o Output) At(component string, i int) (float64, bool) {
	s, found := o[component]
	if !found || i < 0 || i >= len(s) || math.IsNaN(s[i]) {
		return 0, false
	}
	return s[i], true
}

// Library computes indicator series from candle history.
type Library interface {
	// Compute returns the full output of spec over candles (oldest first).
	Compute(spec Spec, candles []model.Candle) (Output, error)

	// Lookback returns how many bars spec needs for a settled latest value.
	Lookback(spec Spec) int
}

var defaults = map[string]model.Settings{
	"RSI":  {Period: 14},
	"EMA":  {Period: 20},
	"SMA":  {Period: 20},
	"SMMA": {Period: 14},
	"MACD": {Fast: 12, Slow: 26, Signal: 9},
}

// Supported reports whether name is a known indicator (case-insensitive).
func Supported(name string) bool {
	_, ok := defaults[strings.ToUpper(name)]
	return ok
}

// Defaults returns the documented default settings of an indicator.
func Defaults(name string) (model.Settings, bool) {
	s, ok := defaults[strings.ToUpper(name)]
	return s, ok
}

// Normalize fills missing parameters with defaults and clears parameters the
// indicator does not use.
func Normalize(name string, s model.Settings) model.Settings {
	d, ok := Defaults(name)
	if !ok {
		return s
	}
	if strings.ToUpper(name) == "MACD" {
		out := model.Settings{Fast: s.Fast, Slow: s.Slow, Signal: s.Signal}
		if out.Fast <= 0 {
			out.Fast = d.Fast
		}
		if out.Slow <= 0 {
			out.Slow = d.Slow
		}
		if out.Signal <= 0 {
			out.Signal = d.Signal
		}
		return out
	}
	out := model.Settings{Period: s.Period}
	if out.Period <= 0 {
		out.Period = d.Period
	}
	return out
}

// Standard is the built-in library backed by the incremental indicators.
type Standard struct{}

// NewStandard returns the built-in library.
func NewStandard() *Standard { return &Standard{} }

// New builds a fresh incremental indicator for spec.
func (l *Standard) New(spec Spec) (Indicator, error) {
	st := spec.Settings
	switch strings.ToUpper(spec.Name) {
	case "SMA":
		if st.Period <= 0 {
			return nil, fmt.Errorf("SMA: invalid period %d", st.Period)
		}
		return NewSMA(st.Period), nil
	case "EMA":
		if st.Period <= 0 {
			return nil, fmt.Errorf("EMA: invalid period %d", st.Period)
		}
		return NewEMA(st.Period), nil
	case "SMMA":
		if st.Period <= 0 {
			return nil, fmt.Errorf("SMMA: invalid period %d", st.Period)
		}
		return NewSMMA(st.Period), nil
	case "RSI":
		if st.Period <= 0 {
			return nil, fmt.Errorf("RSI: invalid period %d", st.Period)
		}
		return NewRSI(st.Period), nil
	case "MACD":
		if st.Fast <= 0 || st.Slow <= 0 || st.Signal <= 0 || st.Fast >= st.Slow {
			return nil, fmt.Errorf("MACD: invalid settings %d/%d/%d", st.Fast, st.Slow, st.Signal)
		}
		return NewMACD(st.Fast, st.Slow, st.Signal), nil
	}
	return nil, fmt.Errorf("unknown indicator %q", spec.Name)
}

// Compute feeds candles through a fresh indicator and records every bar.
func (l *Standard) Compute(spec Spec, candles []model.Candle) (Output, error) {
	ind, err := l.New(spec)
	if err != nil {
		return nil, err
	}
	out := Output{}
	multi, isMulti := ind.(Multi)
	if isMulti {
		for name := range multi.Components() {
			out[name] = nanSeries(len(candles))
		}
	} else {
		out[ComponentValue] = nanSeries(len(candles))
	}

	for i := range candles {
		ind.Update(candles[i])
		if !ind.Ready() {
			continue
		}
		if isMulti {
			for name, v := range multi.Components() {
				out[name][i] = v
			}
		} else {
			out[ComponentValue][i] = ind.Value()
		}
	}
	return out, nil
}

// Lookback sizes history so exponential smoothing has settled: three times
// the longest period, plus one bar so the previous value exists.
func (l *Standard) Lookback(spec Spec) int {
	st := spec.Settings
	switch strings.ToUpper(spec.Name) {
	case "SMA":
		return st.Period + 1
	case "EMA", "SMMA":
		return 3*st.Period + 1
	case "RSI":
		return 3*st.Period + 2
	case "MACD":
		return 3*st.Slow + st.Signal + 1
	}
	return 2
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
