package evaluator

import (
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Effective reports whether a playbook entry counts as satisfied at now.
//
// The reference bar is the newer of the state's last evaluated bar and the
// last bar closed at now, both in the condition's own timeframe. instant is
// the comparison result when the state is current at that bar. Otherwise the
// entry is still effective while the reference bar lies inside the validity
// window that starts at the last satisfied bar.
func Effective(e model.PlaybookEntry, tf model.Timeframe, st model.ConditionState, now time.Time) (instant, effective bool) {
	if st.LastBarEvaluated.IsZero() {
		return false, false
	}
	ref := tf.LastClosedBar(now)
	if st.LastBarEvaluated.After(ref) {
		ref = st.LastBarEvaluated
	}
	instant = st.LastResult && !st.LastBarEvaluated.Before(ref)
	if instant {
		return true, true
	}
	if st.LastSatisfied.IsZero() || e.ValidityDuration <= 0 || ref.Before(st.LastSatisfied) {
		return false, false
	}
	switch e.ValidityUnit {
	case model.ValidityMinutes:
		return false, ref.Sub(st.LastSatisfied) <= time.Duration(e.ValidityDuration)*time.Minute
	default:
		return false, tf.Bars(st.LastSatisfied, ref) <= int64(e.ValidityDuration)
	}
}

// Fold combines entry results under the playbook gate.
//
// Entries arrive in evaluation order. Under ALL, an entry whose logic is OR
// joins the group of its predecessor and groups are ANDed; under ANY, an AND
// entry joins its predecessor's group and groups are ORed. ALL stops at the
// first false group when order is priority, ANY stops at the first true
// group. eff is called at most once per entry, and the returned results
// cover only the entries that were visited.
func Fold(gate model.GateLogic, order model.EvaluationOrder, entries []model.PlaybookEntry, eff func(model.PlaybookEntry) model.EntryResult) (bool, []model.EntryResult) {
	if len(entries) == 0 {
		return false, nil
	}
	results := make([]model.EntryResult, 0, len(entries))
	groups := splitGroups(gate, entries)

	if gate == model.GateAny {
		for _, g := range groups {
			ok := true
			for _, e := range g {
				r := eff(e)
				results = append(results, r)
				if !r.Effective {
					ok = false
					break
				}
			}
			if ok {
				return true, results
			}
		}
		return false, results
	}

	all := true
	for _, g := range groups {
		ok := false
		for _, e := range g {
			r := eff(e)
			results = append(results, r)
			if r.Effective {
				ok = true
				break
			}
		}
		if !ok {
			all = false
			if order == model.OrderPriority {
				return false, results
			}
		}
	}
	return all, results
}

// splitGroups cuts entries where the joining logic does not match the gate's
// inner operator.
func splitGroups(gate model.GateLogic, entries []model.PlaybookEntry) [][]model.PlaybookEntry {
	join := model.LogicOr
	if gate == model.GateAny {
		join = model.LogicAnd
	}
	var groups [][]model.PlaybookEntry
	for i, e := range entries {
		if i > 0 && e.Logic == join {
			groups[len(groups)-1] = append(groups[len(groups)-1], e)
			continue
		}
		groups = append(groups, []model.PlaybookEntry{e})
	}
	return groups
}
