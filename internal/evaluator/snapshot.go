package evaluator

import (
	"fmt"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/condition"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Snapshot holds the closed candles of one batch and every indicator series
// computed over them. It is built once per batch per bar and read by each
// condition of that batch; nothing outlives the batch.
type Snapshot struct {
	Candles []model.Candle
	outputs map[string]indicator.Output
	errs    map[string]error
}

// NewSnapshot computes each spec once over candles (closed bars, oldest
// first). A failing spec only poisons the conditions that read it.
func NewSnapshot(lib indicator.Library, candles []model.Candle, specs []indicator.Spec) *Snapshot {
	s := &Snapshot{
		Candles: candles,
		outputs: make(map[string]indicator.Output, len(specs)),
		errs:    make(map[string]error),
	}
	for _, spec := range specs {
		out, err := lib.Compute(spec, candles)
		if err != nil {
			s.errs[spec.Key()] = err
			continue
		}
		s.outputs[spec.Key()] = out
	}
	return s
}

// Last returns the index of the newest bar, or -1 when empty.
func (s *Snapshot) Last() int {
	return len(s.Candles) - 1
}

// Series returns operand op at bar i.
func (s *Snapshot) Series(op model.Operand, i int) (float64, error) {
	if i < 0 || i >= len(s.Candles) {
		return 0, fmt.Errorf("bar %d out of range (%d candles)", i, len(s.Candles))
	}
	switch op.Source {
	case model.KindPrice:
		return s.Candles[i].Field(op.Field), nil
	case model.KindVolume:
		return s.Candles[i].Volume, nil
	}
	spec, _ := indicator.SpecOf(op)
	if err, bad := s.errs[spec.Key()]; bad {
		return 0, fmt.Errorf("%s: %w", spec.Key(), err)
	}
	out, ok := s.outputs[spec.Key()]
	if !ok {
		return 0, fmt.Errorf("%s was not computed for this batch", spec.Key())
	}
	v, ok := out.At(indicator.ComponentOf(op), i)
	if !ok {
		return 0, fmt.Errorf("%s not ready at bar %d of %d", op.Key(), i+1, len(s.Candles))
	}
	return v, nil
}

// Reading samples a condition at bar i.
func (s *Snapshot) Reading(c *model.Condition, i int) (condition.Reading, error) {
	var r condition.Reading
	v, err := s.Series(c.Source, i)
	if err != nil {
		return r, err
	}
	r.Value = v

	switch c.Compare.Mode {
	case model.CompareValue:
		if c.Compare.Value == nil {
			return r, fmt.Errorf("missing compare value")
		}
		r.Target = *c.Compare.Value
	case model.CompareSeries:
		if c.Compare.Series == nil {
			return r, fmt.Errorf("missing compare series")
		}
		if r.Target, err = s.Series(*c.Compare.Series, i); err != nil {
			return r, err
		}
	case model.CompareRange:
		if c.Compare.Lower == nil || c.Compare.Upper == nil {
			return r, fmt.Errorf("missing range bounds")
		}
		r.Target, r.Upper = *c.Compare.Lower, *c.Compare.Upper
	default:
		return r, fmt.Errorf("unknown compare mode %q", c.Compare.Mode)
	}
	return r, nil
}

// Values returns every series c reads at bar i, keyed by operand key.
// Series that are not available are omitted.
func (s *Snapshot) Values(c *model.Condition, i int) map[string]float64 {
	out := make(map[string]float64, 2)
	for _, op := range c.Operands() {
		if v, err := s.Series(op, i); err == nil {
			out[op.Key()] = v
		}
	}
	return out
}
