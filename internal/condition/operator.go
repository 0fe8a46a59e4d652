package condition

import (
	"fmt"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Reading is one sample of a condition at a bar.
type Reading struct {
	Value  float64 // left-hand series
	Target float64 // literal, right-hand series, or lower bound
	Upper  float64 // between only
}

// Prior is the previous sample used for cross edges.
type Prior struct {
	Value  float64
	Target float64
	Valid  bool
}

// Apply evaluates op on the current reading. Boundaries are inclusive for
// gte, lte and between. Crosses need a valid prior and a strict sign change
// of value-target between the prior and current sample.
func Apply(op model.Operator, cur Reading, prior Prior) (bool, error) {
	switch op {
	case model.OpGT:
		return cur.Value > cur.Target, nil
	case model.OpLT:
		return cur.Value < cur.Target, nil
	case model.OpGTE:
		return cur.Value >= cur.Target, nil
	case model.OpLTE:
		return cur.Value <= cur.Target, nil
	case model.OpBetween:
		return cur.Target <= cur.Value && cur.Value <= cur.Upper, nil
	case model.OpCrossesAbove:
		if !prior.Valid {
			return false, nil
		}
		return prior.Value-prior.Target <= 0 && cur.Value-cur.Target > 0, nil
	case model.OpCrossesBelow:
		if !prior.Valid {
			return false, nil
		}
		return prior.Value-prior.Target >= 0 && cur.Value-cur.Target < 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}
