package indicator

import "github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"

// MACD components.
const (
	ComponentMACD      = "macd"
	ComponentSignal    = "signal"
	ComponentHistogram = "histogram"
)

// MACD calculates the moving average convergence/divergence line
// (EMA(fast) - EMA(slow)), its EMA(signal) and the histogram.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a new MACD indicator (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(candle model.Candle) {
	m.fast.add(candle.Close)
	m.slow.add(candle.Close)
	if !m.slow.Ready() || !m.fast.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.add(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Ready is true once the signal line has seeded.
func (m *MACD) Ready() bool { return m.signal.Ready() }

func (m *MACD) Signal() float64 { return m.signal.Value() }

func (m *MACD) Histogram() float64 { return m.line - m.signal.Value() }

func (m *MACD) Components() map[string]float64 {
	return map[string]float64{
		ComponentMACD:      m.line,
		ComponentSignal:    m.Signal(),
		ComponentHistogram: m.Histogram(),
	}
}

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.line = 0
}
