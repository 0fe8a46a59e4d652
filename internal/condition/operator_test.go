package condition

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

func TestApply_CrossAboveNeedsPrior(t *testing.T) {
	// closes [29, 31] against crosses_above 30
	first, err := Apply(model.OpCrossesAbove, Reading{Value: 29, Target: 30}, Prior{})
	if err != nil || first {
		t.Fatalf("bar 1 fired=%v err=%v, want no fire without prior", first, err)
	}
	second, _ := Apply(model.OpCrossesAbove, Reading{Value: 31, Target: 30}, Prior{Value: 29, Target: 30, Valid: true})
	if !second {
		t.Error("bar 2 should fire on transition")
	}
	sustained, _ := Apply(model.OpCrossesAbove, Reading{Value: 32, Target: 30}, Prior{Value: 31, Target: 30, Valid: true})
	if sustained {
		t.Error("sustained state must not fire again")
	}
	// freshly registered, already above: still no cross
	fresh, _ := Apply(model.OpCrossesAbove, Reading{Value: 40, Target: 30}, Prior{})
	if fresh {
		t.Error("first evaluation must never cross")
	}
}

func TestApply_CrossBelow(t *testing.T) {
	fired, _ := Apply(model.OpCrossesBelow, Reading{Value: 69, Target: 70}, Prior{Value: 71, Target: 70, Valid: true})
	if !fired {
		t.Error("71 -> 69 should cross below 70")
	}
	notYet, _ := Apply(model.OpCrossesBelow, Reading{Value: 70, Target: 70}, Prior{Value: 71, Target: 70, Valid: true})
	if notYet {
		t.Error("touching the threshold is not a cross below")
	}
}

func TestApply_CrossSeries(t *testing.T) {
	// price crosses above a moving average whose value also moves
	fired, _ := Apply(model.OpCrossesAbove, Reading{Value: 101, Target: 100.5}, Prior{Value: 99, Target: 100, Valid: true})
	if !fired {
		t.Error("price above EMA after being below should fire")
	}
}

func TestApply_BetweenInclusive(t *testing.T) {
	cases := []struct {
		v    float64
		want bool
	}{
		{25, true}, {35, true}, {30, true}, {24.99, false}, {35.01, false},
	}
	for _, tc := range cases {
		got, _ := Apply(model.OpBetween, Reading{Value: tc.v, Target: 25, Upper: 35}, Prior{})
		if got != tc.want {
			t.Errorf("between [25,35] value %.2f = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestApply_StaticOperatorsIgnorePrior(t *testing.T) {
	cases := []struct {
		op   model.Operator
		v    float64
		want bool
	}{
		{model.OpGT, 30, false}, {model.OpGTE, 30, true},
		{model.OpLT, 30, false}, {model.OpLTE, 30, true},
		{model.OpGT, 31, true}, {model.OpLT, 29, true},
	}
	for _, tc := range cases {
		got, err := Apply(tc.op, Reading{Value: tc.v, Target: 30}, Prior{})
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("%s %.0f vs 30 = %v, want %v", tc.op, tc.v, got, tc.want)
		}
	}
}

func TestApply_UnknownOperator(t *testing.T) {
	if _, err := Apply(model.Operator("approx"), Reading{}, Prior{}); err == nil {
		t.Error("expected error for unknown operator")
	}
}

// A cross fires only when the sign of value-target flips between samples.
func TestApply_Property_CrossIsEdge(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("crosses_above fires iff prior<=target<cur", prop.ForAll(
		func(prev, cur, target float64) bool {
			got, _ := Apply(model.OpCrossesAbove, Reading{Value: cur, Target: target}, Prior{Value: prev, Target: target, Valid: true})
			return got == (prev <= target && cur > target)
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.Property("above and below never fire together", prop.ForAll(
		func(prev, cur float64) bool {
			p := Prior{Value: prev, Target: 50, Valid: true}
			up, _ := Apply(model.OpCrossesAbove, Reading{Value: cur, Target: 50}, p)
			down, _ := Apply(model.OpCrossesBelow, Reading{Value: cur, Target: 50}, p)
			return !(up && down)
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
