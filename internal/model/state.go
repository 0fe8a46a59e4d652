package model

import "time"

// StateKey identifies the evaluation state of one condition on one symbol/timeframe.
type StateKey struct {
	ConditionID string
	Symbol      string
	Timeframe   Timeframe
}

// String returns "condition_id:symbol:timeframe".
func (k StateKey) String() string {
	return k.ConditionID + ":" + k.Symbol + ":" + string(k.Timeframe)
}

// StateKeyFor builds the state key of a condition.
func StateKeyFor(c *Condition) StateKey {
	return StateKey{ConditionID: c.ID, Symbol: c.Symbol, Timeframe: c.Timeframe}
}

// ConditionState is the mutable temporal state of a condition. Zero times
// mean "never".
type ConditionState struct {
	Key              StateKey  `json:"-"`
	LastBarEvaluated time.Time `json:"last_bar_evaluated"`
	SatisfiedSince   time.Time `json:"satisfied_since_bar"` // first bar of the current satisfied run
	LastSatisfied    time.Time `json:"last_satisfied_bar"`  // newest bar whose instant result was true
	PriorValue       float64   `json:"prior_value"`  // lhs at LastBarEvaluated
	PriorTarget      float64   `json:"prior_target"` // rhs at LastBarEvaluated
	HasPrior         bool      `json:"has_prior"`
	LastResult       bool      `json:"last_result"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Evaluated reports whether bar has already been processed.
func (s *ConditionState) Evaluated(bar time.Time) bool {
	return !s.LastBarEvaluated.IsZero() && !bar.After(s.LastBarEvaluated)
}
