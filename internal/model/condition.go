package model

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the left-hand source family of a condition.
type Kind string

const (
	KindIndicator Kind = "indicator"
	KindPrice     Kind = "price"
	KindVolume    Kind = "volume"
)

// Operator is a comparison applied to the latest closed bar.
type Operator string

const (
	OpGT           Operator = "gt"
	OpLT           Operator = "lt"
	OpGTE          Operator = "gte"
	OpLTE          Operator = "lte"
	OpCrossesAbove Operator = "crosses_above"
	OpCrossesBelow Operator = "crosses_below"
	OpBetween      Operator = "between"
)

// IsCross reports whether the operator needs a prior sample.
func (op Operator) IsCross() bool {
	return op == OpCrossesAbove || op == OpCrossesBelow
}

// Symbol returns the human form used in summaries.
func (op Operator) Symbol() string {
	switch op {
	case OpGT:
		return ">"
	case OpLT:
		return "<"
	case OpGTE:
		return ">="
	case OpLTE:
		return "<="
	case OpCrossesAbove:
		return "crosses above"
	case OpCrossesBelow:
		return "crosses below"
	case OpBetween:
		return "between"
	}
	return string(op)
}

// CompareMode selects the right-hand side of a condition.
type CompareMode string

const (
	CompareValue  CompareMode = "value"
	CompareSeries CompareMode = "series"
	CompareRange  CompareMode = "range"
)

// Settings holds indicator parameters. Zero fields are omitted from the
// canonical body, so only parameters the indicator uses are populated.
type Settings struct {
	Period int `json:"period,omitempty"`
	Fast   int `json:"fast,omitempty"`
	Slow   int `json:"slow,omitempty"`
	Signal int `json:"signal,omitempty"`
}

// Operand is a series reference: an indicator output, an OHLC field, or volume.
type Operand struct {
	Source    Kind      `json:"source"`
	Indicator string    `json:"indicator,omitempty"` // RSI, EMA, SMA, SMMA, MACD
	Settings  *Settings `json:"settings,omitempty"`
	Component string    `json:"component,omitempty"` // MACD: macd, signal, histogram
	Field     string    `json:"field,omitempty"`     // price: open, high, low, close
}

// Key returns a stable label for the series, e.g. "RSI(14)", "MACD(12,26,9).signal",
// "price.close". Used as the snapshot lookup key.
func (o Operand) Key() string {
	switch o.Source {
	case KindPrice:
		f := o.Field
		if f == "" {
			f = "close"
		}
		return "price." + f
	case KindVolume:
		return "volume"
	}
	k := o.Indicator
	if s := o.Settings; s != nil {
		if o.Indicator == "MACD" {
			k += "(" + strconv.Itoa(s.Fast) + "," + strconv.Itoa(s.Slow) + "," + strconv.Itoa(s.Signal) + ")"
		} else {
			k += "(" + strconv.Itoa(s.Period) + ")"
		}
	}
	if o.Component != "" {
		k += "." + o.Component
	}
	return k
}

// Compare is the right-hand side: a literal, another series, or an inclusive range.
type Compare struct {
	Mode   CompareMode `json:"mode"`
	Value  *float64    `json:"value,omitempty"`
	Series *Operand    `json:"series,omitempty"`
	Lower  *float64    `json:"lower,omitempty"`
	Upper  *float64    `json:"upper,omitempty"`
}

// Condition is the canonical, deduplicated unit of evaluation. It is never
// mutated after registration.
type Condition struct {
	ID        string    `json:"condition_id"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Kind      Kind      `json:"kind"`
	Operator  Operator  `json:"operator"`
	Source    Operand   `json:"source"`
	Compare   Compare   `json:"compare"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchKey returns "symbol:timeframe", the planner grouping key.
func (c *Condition) BatchKey() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// Operands returns every series the condition reads.
func (c *Condition) Operands() []Operand {
	ops := []Operand{c.Source}
	if c.Compare.Mode == CompareSeries && c.Compare.Series != nil {
		ops = append(ops, *c.Compare.Series)
	}
	return ops
}

// Summary renders a short human description, e.g. "RSI(14) < 30 on BTCUSDT 1h".
func (c *Condition) Summary() string {
	var rhs string
	switch c.Compare.Mode {
	case CompareSeries:
		if c.Compare.Series != nil {
			rhs = c.Compare.Series.Key()
		}
	case CompareRange:
		rhs = "[" + fmtFloat(c.Compare.Lower) + ", " + fmtFloat(c.Compare.Upper) + "]"
	default:
		rhs = fmtFloat(c.Compare.Value)
	}
	return fmt.Sprintf("%s %s %s on %s %s", c.Source.Key(), c.Operator.Symbol(), rhs, c.Symbol, c.Timeframe)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "?"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
