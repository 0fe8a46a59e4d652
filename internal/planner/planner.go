// Package planner builds the per-cycle batch plan: active conditions grouped
// by (symbol, timeframe) with the union of indicators each group needs.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/condition"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// minBars is the smallest history any batch fetches.
const minBars = 2

// BatchEntry is the unit of shared computation for one (symbol, timeframe).
type BatchEntry struct {
	Symbol     string
	Timeframe  model.Timeframe
	Conditions []model.Condition // sorted by ID
	Indicators []indicator.Spec  // deduped by Spec.Key
	Lookback   int               // bars to fetch, forming bar included

	// Direct holds single-condition subscriptions by condition ID.
	Direct map[string][]model.Subscription
}

// Key returns "symbol:timeframe".
func (b *BatchEntry) Key() string {
	return b.Symbol + ":" + string(b.Timeframe)
}

// PlaybookPlan is one playbook with its active subscriptions.
type PlaybookPlan struct {
	Playbook      model.Playbook
	Subscriptions []model.Subscription
}

// Plan is immutable once built; the evaluator reads it for one cycle.
type Plan struct {
	BuiltAt    time.Time
	Entries    []*BatchEntry
	Playbooks  []PlaybookPlan
	Conditions map[string]model.Condition
}

// IndicatorCount returns the total indicator computations the plan requires.
func (p *Plan) IndicatorCount() int {
	n := 0
	for _, e := range p.Entries {
		n += len(e.Indicators)
	}
	return n
}

// Planner reads the catalog and produces plans.
type Planner struct {
	catalog model.Catalog
	lib     indicator.Library
	warmup  int
	log     *slog.Logger
}

// New creates a planner. warmup extra bars are added to every lookback.
func New(catalog model.Catalog, lib indicator.Library, warmup int, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{catalog: catalog, lib: lib, warmup: warmup, log: log.With("component", "planner")}
}

// Build assembles the plan from active subscriptions only. Conditions without
// an active subscriber and symbols without such conditions never appear.
func (p *Planner) Build(ctx context.Context) (*Plan, error) {
	subs, err := p.catalog.ListSubscriptions(ctx, model.SubscriptionFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("plan: list subscriptions: %w", err)
	}

	direct := make(map[string][]model.Subscription)
	pbSubs := make(map[string][]model.Subscription)
	var pbIDs []string
	for _, s := range subs {
		switch s.Target.Kind {
		case model.TargetCondition:
			direct[s.Target.ID] = append(direct[s.Target.ID], s)
		case model.TargetPlaybook:
			if _, seen := pbSubs[s.Target.ID]; !seen {
				pbIDs = append(pbIDs, s.Target.ID)
			}
			pbSubs[s.Target.ID] = append(pbSubs[s.Target.ID], s)
		}
	}

	playbooks, err := p.catalog.GetPlaybooks(ctx, pbIDs)
	if err != nil {
		return nil, fmt.Errorf("plan: load playbooks: %w", err)
	}

	needed := make(map[string]bool)
	for id := range direct {
		needed[id] = true
	}
	plan := &Plan{BuiltAt: time.Now().UTC()}
	sort.Strings(pbIDs)
	for _, id := range pbIDs {
		pb, ok := playbooks[id]
		if !ok {
			p.log.Warn("subscribed playbook missing", "playbook_id", id)
			continue
		}
		cids := pb.ConditionIDs()
		if len(cids) == 0 {
			continue
		}
		for _, cid := range cids {
			needed[cid] = true
		}
		plan.Playbooks = append(plan.Playbooks, PlaybookPlan{Playbook: pb, Subscriptions: pbSubs[id]})
	}

	ids := make([]string, 0, len(needed))
	for id := range needed {
		ids = append(ids, id)
	}
	conds, err := p.catalog.GetConditions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("plan: load conditions: %w", err)
	}
	plan.Conditions = conds

	batches := make(map[string]*BatchEntry)
	seenSpec := make(map[string]map[string]bool)
	sort.Strings(ids)
	for _, id := range ids {
		c, ok := conds[id]
		if !ok {
			p.log.Warn("subscribed condition missing", "condition_id", id)
			continue
		}
		key := c.BatchKey()
		b := batches[key]
		if b == nil {
			b = &BatchEntry{
				Symbol:    c.Symbol,
				Timeframe: c.Timeframe,
				Direct:    make(map[string][]model.Subscription),
			}
			batches[key] = b
			seenSpec[key] = make(map[string]bool)
		}
		b.Conditions = append(b.Conditions, c)
		if ds := direct[id]; len(ds) > 0 {
			b.Direct[id] = ds
		}
		for _, spec := range condition.RequiredIndicators(&c) {
			if seenSpec[key][spec.Key()] {
				continue
			}
			seenSpec[key][spec.Key()] = true
			b.Indicators = append(b.Indicators, spec)
		}
	}

	for _, b := range batches {
		b.Lookback = p.lookback(b.Indicators)
		plan.Entries = append(plan.Entries, b)
	}
	sort.Slice(plan.Entries, func(i, j int) bool { return plan.Entries[i].Key() < plan.Entries[j].Key() })
	return plan, nil
}

// lookback is the longest indicator lookback plus warm-up, plus one bar for
// the candle that may still be forming.
func (p *Planner) lookback(specs []indicator.Spec) int {
	n := minBars
	for _, s := range specs {
		if lb := p.lib.Lookback(s); lb > n {
			n = lb
		}
	}
	return n + p.warmup + 1
}
