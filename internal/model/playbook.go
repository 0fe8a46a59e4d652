package model

import (
	"sort"
	"time"
)

// GateLogic folds playbook entries: ALL (conjunction) or ANY (disjunction).
type GateLogic string

const (
	GateAll GateLogic = "ALL"
	GateAny GateLogic = "ANY"
)

// EvaluationOrder decides entry ordering during the fold.
type EvaluationOrder string

const (
	OrderPriority   EvaluationOrder = "priority"
	OrderSequential EvaluationOrder = "sequential"
)

// EntryLogic relates an entry to its predecessor.
type EntryLogic string

const (
	LogicAnd EntryLogic = "AND"
	LogicOr  EntryLogic = "OR"
)

// ValidityUnit is the unit of an entry's validity window.
type ValidityUnit string

const (
	ValidityBars    ValidityUnit = "bars"
	ValidityMinutes ValidityUnit = "minutes"
)

// PlaybookEntry references one condition inside a playbook.
type PlaybookEntry struct {
	ConditionID      string       `json:"condition_id"`
	Priority         int          `json:"priority"`
	Enabled          bool         `json:"enabled"`
	Logic            EntryLogic   `json:"logic,omitempty"`
	ValidityDuration int          `json:"validity_duration"`
	ValidityUnit     ValidityUnit `json:"validity_unit"`
}

// Playbook is an ordered, gated composition of conditions owned by one user.
type Playbook struct {
	ID              string          `json:"playbook_id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	GateLogic       GateLogic       `json:"gate_logic"`
	EvaluationOrder EvaluationOrder `json:"evaluation_order"`
	Entries         []PlaybookEntry `json:"entries"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EnabledEntries returns the enabled entries in evaluation order. Priority
// order sorts ascending by priority, keeping declaration order on ties.
func (p *Playbook) EnabledEntries() []PlaybookEntry {
	out := make([]PlaybookEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	if p.EvaluationOrder == OrderPriority {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	}
	return out
}

// ConditionIDs returns the distinct condition IDs of enabled entries.
func (p *Playbook) ConditionIDs() []string {
	seen := make(map[string]bool, len(p.Entries))
	var ids []string
	for _, e := range p.Entries {
		if e.Enabled && !seen[e.ConditionID] {
			seen[e.ConditionID] = true
			ids = append(ids, e.ConditionID)
		}
	}
	return ids
}

// References reports whether an enabled entry points at conditionID.
func (p *Playbook) References(conditionID string) bool {
	for _, e := range p.Entries {
		if e.Enabled && e.ConditionID == conditionID {
			return true
		}
	}
	return false
}
