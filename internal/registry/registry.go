// Package registry is the Condition Registry: it canonicalizes and dedupes
// condition bodies, stores playbooks and reports subscriber counts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/condition"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Status reports whether Register stored a new condition.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusExisting   Status = "existing"
)

// Stats are registry-wide counters.
type Stats struct {
	TotalConditions            int     `json:"total_conditions"`
	ActiveConditions           int     `json:"active_conditions"`
	TotalSubscriptions         int     `json:"total_subscriptions"`
	AvgSubscribersPerCondition float64 `json:"avg_subscribers_per_condition"`
}

// Registry is the single write path for conditions and playbooks.
type Registry struct {
	catalog model.Catalog
	log     *slog.Logger
	now     func() time.Time
}

// New creates a registry over catalog.
func New(catalog model.Catalog, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		catalog: catalog,
		log:     log.With("component", "registry"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register normalizes body and stores it on first sight. Equivalent bodies
// always return the same condition ID.
func (r *Registry) Register(ctx context.Context, body map[string]any) (model.Condition, Status, error) {
	c, err := condition.Normalize(body)
	if err != nil {
		return model.Condition{}, "", err
	}
	return r.RegisterCondition(ctx, c)
}

// RegisterCondition stores an already-normalized condition.
func (r *Registry) RegisterCondition(ctx context.Context, c model.Condition) (model.Condition, Status, error) {
	c.ID = condition.Hash(&c)
	c.CreatedAt = r.now()
	created, err := r.catalog.PutCondition(ctx, c)
	if err != nil {
		return model.Condition{}, "", fmt.Errorf("registry put %s: %w", c.ID, err)
	}
	if created {
		r.log.Info("condition registered", "condition_id", c.ID, "summary", c.Summary())
		return c, StatusRegistered, nil
	}
	stored, err := r.catalog.GetCondition(ctx, c.ID)
	if err != nil {
		return model.Condition{}, "", err
	}
	return stored, StatusExisting, nil
}

// GetStatus returns the condition and its active subscriber count.
func (r *Registry) GetStatus(ctx context.Context, id string) (model.Condition, int, error) {
	c, err := r.catalog.GetCondition(ctx, id)
	if err != nil {
		return model.Condition{}, 0, err
	}
	counts, err := r.subscriberCounts(ctx)
	if err != nil {
		return model.Condition{}, 0, err
	}
	return c, counts[id], nil
}

// Stats returns registry-wide counters. The average is active subscriptions
// over stored conditions.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	total, err := r.catalog.CountConditions(ctx)
	if err != nil {
		return Stats{}, err
	}
	subs, err := r.catalog.ListSubscriptions(ctx, model.SubscriptionFilter{ActiveOnly: true})
	if err != nil {
		return Stats{}, err
	}
	counts, err := r.countsFor(ctx, subs)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalConditions:    total,
		ActiveConditions:   len(counts),
		TotalSubscriptions: len(subs),
	}
	if total > 0 {
		st.AvgSubscribersPerCondition = float64(len(subs)) / float64(total)
	}
	return st, nil
}

func (r *Registry) subscriberCounts(ctx context.Context) (map[string]int, error) {
	subs, err := r.catalog.ListSubscriptions(ctx, model.SubscriptionFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	return r.countsFor(ctx, subs)
}

// countsFor maps condition ID to subscribers: direct subscriptions plus
// playbook subscriptions whose playbook has an enabled entry for it.
func (r *Registry) countsFor(ctx context.Context, subs []model.Subscription) (map[string]int, error) {
	counts := make(map[string]int)
	var pbIDs []string
	for _, s := range subs {
		switch s.Target.Kind {
		case model.TargetCondition:
			counts[s.Target.ID]++
		case model.TargetPlaybook:
			pbIDs = append(pbIDs, s.Target.ID)
		}
	}
	if len(pbIDs) == 0 {
		return counts, nil
	}
	pbs, err := r.catalog.GetPlaybooks(ctx, pbIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range pbIDs {
		pb, ok := pbs[id]
		if !ok {
			continue
		}
		for _, cid := range pb.ConditionIDs() {
			counts[cid]++
		}
	}
	return counts, nil
}

// Exists reports whether a condition is stored.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.catalog.GetCondition(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
