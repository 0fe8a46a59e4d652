// Package indicator provides technical indicator calculations over candle data.
//
// All indicators implement the Indicator interface, receiving candles and
// producing float64 values. A Library turns a candle history into
// time-aligned series for the evaluator.
package indicator

import "github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"

// Indicator is the interface for all incremental technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds the next closed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears accumulated state for reuse.
	Reset()
}

// Multi is implemented by indicators with more than one output line.
type Multi interface {
	Indicator

	// Components returns every output line keyed by component name.
	Components() map[string]float64
}
