package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// PlaybookInput is the client shape of a playbook. Entries reference an
// existing condition_id or embed a condition body registered on the fly.
type PlaybookInput struct {
	Name            string       `json:"name"`
	GateLogic       string       `json:"gate_logic"`
	EvaluationOrder string       `json:"evaluation_order"`
	Entries         []EntryInput `json:"entries"`
}

// EntryInput is one playbook entry as submitted.
type EntryInput struct {
	ConditionID      string         `json:"condition_id"`
	Condition        map[string]any `json:"condition"`
	Priority         int            `json:"priority"`
	Enabled          *bool          `json:"enabled"` // default true
	Logic            string         `json:"logic"`
	ValidityDuration int            `json:"validity_duration"`
	ValidityUnit     string         `json:"validity_unit"`
}

// CreatePlaybook validates and stores a playbook owned by ownerID.
func (r *Registry) CreatePlaybook(ctx context.Context, ownerID string, in PlaybookInput) (model.Playbook, error) {
	if ownerID == "" {
		return model.Playbook{}, model.ErrUnauthorized
	}
	if len(in.Entries) == 0 {
		return model.Playbook{}, model.Validationf("playbook needs at least one entry")
	}
	gate, err := parseGate(in.GateLogic)
	if err != nil {
		return model.Playbook{}, err
	}
	order, err := parseOrder(in.EvaluationOrder)
	if err != nil {
		return model.Playbook{}, err
	}

	pb := model.Playbook{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Name:            in.Name,
		GateLogic:       gate,
		EvaluationOrder: order,
		CreatedAt:       r.now(),
	}
	for i, e := range in.Entries {
		entry, err := r.buildEntry(ctx, gate, i, e)
		if err != nil {
			return model.Playbook{}, err
		}
		pb.Entries = append(pb.Entries, entry)
	}

	if err := r.catalog.PutPlaybook(ctx, pb); err != nil {
		return model.Playbook{}, err
	}
	r.log.Info("playbook created", "playbook_id", pb.ID, "owner", ownerID, "entries", len(pb.Entries), "gate", pb.GateLogic)
	return pb, nil
}

// GetPlaybook returns a stored playbook.
func (r *Registry) GetPlaybook(ctx context.Context, id string) (model.Playbook, error) {
	return r.catalog.GetPlaybook(ctx, id)
}

func (r *Registry) buildEntry(ctx context.Context, gate model.GateLogic, i int, e EntryInput) (model.PlaybookEntry, error) {
	id := e.ConditionID
	switch {
	case e.Condition != nil:
		c, _, err := r.Register(ctx, e.Condition)
		if err != nil {
			return model.PlaybookEntry{}, err
		}
		id = c.ID
	case id == "":
		return model.PlaybookEntry{}, model.Validationf("entry %d: condition_id or condition is required", i)
	default:
		if _, err := r.catalog.GetCondition(ctx, id); err != nil {
			return model.PlaybookEntry{}, err
		}
	}

	if e.ValidityDuration < 0 {
		return model.PlaybookEntry{}, model.Validationf("entry %d: negative validity_duration", i)
	}
	unit := model.ValidityUnit(strings.ToLower(e.ValidityUnit))
	switch unit {
	case "", "bar":
		unit = model.ValidityBars
	case "minute", "min", "mins":
		unit = model.ValidityMinutes
	case model.ValidityBars, model.ValidityMinutes:
	default:
		return model.PlaybookEntry{}, model.Validationf("entry %d: unknown validity_unit %q", i, e.ValidityUnit)
	}

	logic := model.EntryLogic(strings.ToUpper(e.Logic))
	switch logic {
	case "":
		logic = model.LogicAnd
		if gate == model.GateAny {
			logic = model.LogicOr
		}
	case model.LogicAnd, model.LogicOr:
	default:
		return model.PlaybookEntry{}, model.Validationf("entry %d: unknown logic %q", i, e.Logic)
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return model.PlaybookEntry{
		ConditionID:      id,
		Priority:         e.Priority,
		Enabled:          enabled,
		Logic:            logic,
		ValidityDuration: e.ValidityDuration,
		ValidityUnit:     unit,
	}, nil
}

func parseGate(s string) (model.GateLogic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL", "AND":
		return model.GateAll, nil
	case "ANY", "OR":
		return model.GateAny, nil
	}
	return "", model.Validationf("unknown gate_logic %q", s)
}

func parseOrder(s string) (model.EvaluationOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "priority":
		return model.OrderPriority, nil
	case "sequential", "declaration":
		return model.OrderSequential, nil
	}
	return "", model.Validationf("unknown evaluation_order %q", s)
}
