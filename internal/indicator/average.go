package indicator

import "github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"

// SMA is the mean of the last period closes.
type SMA struct {
	period int
	window []float64 // ring of the last period closes
	next   int
	filled int
	total  float64
}

// NewSMA creates an SMA over period bars.
func NewSMA(period int) *SMA {
	return &SMA{period: period, window: make([]float64, period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(candle model.Candle) {
	if s.filled == s.period {
		s.total -= s.window[s.next]
	} else {
		s.filled++
	}
	s.window[s.next] = candle.Close
	s.total += candle.Close
	s.next = (s.next + 1) % s.period
}

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.total / float64(s.period)
}

func (s *SMA) Ready() bool { return s.filled == s.period }

func (s *SMA) Reset() {
	clear(s.window)
	s.next, s.filled, s.total = 0, 0, 0
}

// smoother is the recursive average shared by EMA and SMMA:
// v = v + alpha*(x - v), seeded with the mean of the first period inputs.
type smoother struct {
	name   string
	period int
	alpha  float64
	seen   int
	value  float64
}

func (s *smoother) add(x float64) {
	s.seen++
	switch {
	case s.seen < s.period:
		s.value += x
	case s.seen == s.period:
		s.value = (s.value + x) / float64(s.period)
	default:
		s.value += s.alpha * (x - s.value)
	}
}

func (s *smoother) Name() string { return s.name }

func (s *smoother) Update(candle model.Candle) { s.add(candle.Close) }

func (s *smoother) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.value
}

func (s *smoother) Ready() bool { return s.seen >= s.period }

func (s *smoother) Reset() { s.seen, s.value = 0, 0 }

// EMA weights the newest close by 2/(period+1).
type EMA struct{ smoother }

// NewEMA creates an EMA over period bars.
func NewEMA(period int) *EMA {
	return &EMA{smoother{name: "EMA", period: period, alpha: 2 / float64(period+1)}}
}

// SMMA is Wilder's smoothed average: the newest close weighs 1/period.
type SMMA struct{ smoother }

// NewSMMA creates an SMMA over period bars.
func NewSMMA(period int) *SMMA {
	return &SMMA{smoother{name: "SMMA", period: period, alpha: 1 / float64(period)}}
}
