// Package evaluator runs the evaluation cycle: fetch each (symbol, timeframe)
// batch once, compute its indicators once, evaluate every subscribed
// condition on the latest closed bar, fold playbooks and hand triggers to the
// dispatcher.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/condition"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/logger"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/metrics"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/planner"
)

// PlanBuilder produces the batch plan for a cycle.
type PlanBuilder interface {
	Build(ctx context.Context) (*planner.Plan, error)
}

// SubscriptionGate is the part of the subscription service the engine needs
// right before dispatch.
type SubscriptionGate interface {
	IsActive(ctx context.Context, id string) (bool, error)
	Deactivate(ctx context.Context, id string) (bool, error)
}

// Dispatcher delivers one trigger to one subscription.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub model.Subscription, ev model.TriggerEvent) error
}

// Config tunes the cycle.
type Config struct {
	Interval     time.Duration // polling cadence, independent of timeframes
	Workers      int           // concurrent batches per cycle
	FetchTimeout time.Duration // per-batch market data deadline
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	return c
}

// Deps are the collaborators of an Engine. Metrics and Health may be nil.
type Deps struct {
	Plans      PlanBuilder
	Source     model.CandleSource
	Library    indicator.Library
	State      model.StateStore
	Subs       SubscriptionGate
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
	Log        *slog.Logger
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Started   time.Time
	Duration  time.Duration
	Batches   int // batches in the plan
	Processed int // batches that evaluated a new bar
	Failed    int // batches skipped on data source errors
	Evaluated int // condition evaluations
	Triggers  int // dispatches attempted
}

// batchMark remembers the last bar a batch fully processed and the set of
// conditions it covered, so the batch is a no-op until a new bar closes or
// its condition set changes.
type batchMark struct {
	bar        time.Time
	conditions string
}

// evalResult is one condition's outcome in the current cycle.
type evalResult struct {
	state  model.ConditionState
	price  float64
	volume float64
	values map[string]float64
	fresh  bool // evaluated on a new bar this cycle
}

// Engine is the centralized evaluator.
type Engine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	mu    sync.Mutex
	marks map[string]batchMark
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		log:   deps.Log.With("component", "evaluator"),
		now:   func() time.Time { return time.Now().UTC() },
		marks: make(map[string]batchMark),
	}
}

// Run evaluates on every tick until ctx is cancelled. Cycle errors are logged
// and never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("evaluation loop started", "interval", e.cfg.Interval.String(), "workers", e.cfg.Workers)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("evaluation loop stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	rep, err := e.RunCycle(ctx, e.now())
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error("cycle failed", "error", err)
	}
	if h := e.deps.Health; h != nil {
		h.CycleDone(e.now(), err)
	}
	if m := e.deps.Metrics; m != nil {
		m.CyclesTotal.Inc()
		m.CycleDur.Observe(rep.Duration.Seconds())
		m.LastCycleTime.SetToCurrentTime()
		if rep.Duration > e.cfg.Interval {
			m.CycleOverruns.Inc()
		}
	}
}

// RunCycle performs one full evaluation pass as of now. Batches run
// concurrently on the worker pool; playbooks fold after all batches finish.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	rep := CycleReport{Started: now}
	start := time.Now()

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("cycle", now))
	plan, err := e.deps.Plans.Build(ctx)
	if err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("build plan: %w", err)
	}
	rep.Batches = len(plan.Entries)
	if m := e.deps.Metrics; m != nil {
		m.PlanBatches.Set(float64(len(plan.Entries)))
		m.PlanIndicators.Set(float64(plan.IndicatorCount()))
		m.PlanPlaybooks.Set(float64(len(plan.Playbooks)))
	}

	var (
		resMu   sync.Mutex
		results = make(map[string]*evalResult)
		stats   = make([]batchStats, len(plan.Entries))
	)
	record := func(id string, r *evalResult) {
		resMu.Lock()
		results[id] = r
		resMu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, b := range plan.Entries {
		if ctx.Err() != nil {
			break
		}
		i, b := i, b
		g.Go(func() error {
			stats[i] = e.processBatch(ctx, b, now, record)
			return nil
		})
	}
	g.Wait()

	for _, s := range stats {
		if s.processed {
			rep.Processed++
		}
		if s.failed {
			rep.Failed++
		}
		rep.Evaluated += s.evaluated
		rep.Triggers += s.triggers
	}

	if len(results) > 0 {
		rep.Triggers += e.evaluatePlaybooks(ctx, plan, results, now)
	}
	rep.Duration = time.Since(start)
	if rep.Processed > 0 || rep.Failed > 0 {
		e.log.Debug("cycle done", append(logger.LogWithTrace(ctx),
			"batches", rep.Batches, "processed", rep.Processed, "failed", rep.Failed,
			"evaluated", rep.Evaluated, "triggers", rep.Triggers, "took", rep.Duration.String())...)
	}
	return rep, ctx.Err()
}

type batchStats struct {
	processed bool
	failed    bool
	evaluated int
	triggers  int
}

func conditionSet(b *planner.BatchEntry) string {
	ids := make([]string, len(b.Conditions))
	for i := range b.Conditions {
		ids[i] = b.Conditions[i].ID
	}
	return strings.Join(ids, ",")
}

// processBatch evaluates one (symbol, timeframe). Failures stay inside the
// batch: a fetch error leaves the batch unmarked so the next tick retries.
func (e *Engine) processBatch(ctx context.Context, b *planner.BatchEntry, now time.Time, record func(string, *evalResult)) (st batchStats) {
	log := e.log.With("batch", b.Key())
	defer func() {
		if r := recover(); r != nil {
			log.Error("batch panic recovered", "panic", r, "stack", string(debug.Stack()))
			if m := e.deps.Metrics; m != nil {
				m.BatchPanics.Inc()
			}
			st.failed = true
		}
	}()

	expected := b.Timeframe.LastClosedBar(now)
	set := conditionSet(b)
	e.mu.Lock()
	mark, seen := e.marks[b.Key()]
	e.mu.Unlock()
	if seen && !mark.bar.Before(expected) && mark.conditions == set {
		return st
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	t0 := time.Now()
	candles, err := e.deps.Source.FetchCandles(fetchCtx, b.Symbol, b.Timeframe, b.Lookback)
	cancel()
	if m := e.deps.Metrics; m != nil {
		m.FetchDur.Observe(time.Since(t0).Seconds())
	}
	if err != nil {
		err = model.DataSourceError(b.Symbol, b.Timeframe, err)
		log.Warn("batch skipped", "error", err)
		if m := e.deps.Metrics; m != nil {
			m.DataSourceErrors.WithLabelValues(string(b.Timeframe)).Inc()
		}
		st.failed = true
		return st
	}

	closed := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Timeframe == "" {
			c.Timeframe = b.Timeframe
		}
		if c.Closed(now) {
			closed = append(closed, c)
		}
	}
	if len(closed) == 0 || closed[len(closed)-1].OpenTime.Before(expected) {
		// exchange has not published the bar yet
		return st
	}

	snap := NewSnapshot(e.deps.Library, closed, b.Indicators)
	i := snap.Last()
	bar := closed[i].OpenTime
	complete := true
	for ci := range b.Conditions {
		c := &b.Conditions[ci]
		res, fresh := e.evaluate(ctx, c, snap, i, bar, log)
		if res == nil {
			complete = false
			continue
		}
		record(c.ID, res)
		if !fresh {
			continue
		}
		st.evaluated++
		if !res.state.LastResult {
			continue
		}
		for _, sub := range b.Direct[c.ID] {
			ev := model.TriggerEvent{
				ConditionID: c.ID,
				Symbol:      c.Symbol,
				Timeframe:   c.Timeframe,
				Bar:         bar,
				Snapshot: model.TriggerSnapshot{
					Price:   res.price,
					Volume:  res.volume,
					Values:  res.values,
					Summary: c.Summary(),
				},
			}
			if e.fire(ctx, sub, ev) {
				st.triggers++
			}
		}
	}

	st.processed = true
	if complete {
		e.mu.Lock()
		e.marks[b.Key()] = batchMark{bar: bar, conditions: set}
		e.mu.Unlock()
	}
	return st
}

// evaluate runs one condition at bar and persists its state. fresh is false
// when the bar had already been evaluated in an earlier cycle; the stored
// result is returned so playbooks can still fold it.
func (e *Engine) evaluate(ctx context.Context, c *model.Condition, snap *Snapshot, i int, bar time.Time, log *slog.Logger) (*evalResult, bool) {
	key := model.StateKeyFor(c)
	prev, _, err := e.deps.State.LoadState(ctx, key)
	if err != nil {
		log.Error("load state failed", "condition_id", c.ID, "error", err)
		return nil, false
	}
	prev.Key = key
	candle := snap.Candles[i]
	res := &evalResult{price: candle.Close, volume: candle.Volume}
	if prev.Evaluated(bar) {
		res.state = prev
		return res, false
	}

	next := prev
	next.LastBarEvaluated = bar
	next.UpdatedAt = e.now()

	reading, err := snap.Reading(c, i)
	var ok bool
	if err == nil {
		ok, err = condition.Apply(c.Operator, reading, condition.Prior{
			Value: prev.PriorValue, Target: prev.PriorTarget, Valid: prev.HasPrior,
		})
	}
	if err != nil {
		err = model.ComputeError(c.ID, err)
		log.Warn("condition not evaluated", "condition_id", c.ID, "bar", bar, "error", err)
		if m := e.deps.Metrics; m != nil {
			m.ComputeErrors.Inc()
		}
		next.LastResult = false
		next.HasPrior = false
		next.SatisfiedSince = time.Time{}
	} else {
		next.LastResult = ok
		next.PriorValue, next.PriorTarget, next.HasPrior = reading.Value, reading.Target, true
		if ok {
			if prev.SatisfiedSince.IsZero() || !prev.LastResult {
				next.SatisfiedSince = bar
			}
			next.LastSatisfied = bar
		} else {
			next.SatisfiedSince = time.Time{}
		}
		res.values = snap.Values(c, i)
	}

	if err := e.deps.State.SaveState(ctx, next); err != nil {
		log.Error("save state failed", "condition_id", c.ID, "error", err)
		return nil, false
	}
	if m := e.deps.Metrics; m != nil {
		m.ConditionsEvaluated.Inc()
	}
	res.state = next
	res.fresh = true
	return res, true
}

// evaluatePlaybooks folds every subscribed playbook that has at least one
// entry evaluated on a new bar this cycle.
func (e *Engine) evaluatePlaybooks(ctx context.Context, plan *planner.Plan, results map[string]*evalResult, now time.Time) int {
	fired := 0
	for _, pp := range plan.Playbooks {
		if ctx.Err() != nil {
			return fired
		}
		pb := pp.Playbook
		entries := pb.EnabledEntries()
		touched := false
		for _, en := range entries {
			if r, ok := results[en.ConditionID]; ok && r.fresh {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}

		states := make(map[string]model.ConditionState, len(entries))
		for _, en := range entries {
			if r, ok := results[en.ConditionID]; ok {
				states[en.ConditionID] = r.state
				continue
			}
			c, ok := plan.Conditions[en.ConditionID]
			if !ok {
				continue
			}
			st, _, err := e.deps.State.LoadState(ctx, model.StateKeyFor(&c))
			if err != nil {
				e.log.Error("load state failed", "playbook_id", pb.ID, "condition_id", c.ID, "error", err)
				continue
			}
			states[en.ConditionID] = st
		}

		ok, entryResults := Fold(pb.GateLogic, pb.EvaluationOrder, entries, func(en model.PlaybookEntry) model.EntryResult {
			r := model.EntryResult{ConditionID: en.ConditionID}
			c, found := plan.Conditions[en.ConditionID]
			if !found {
				return r
			}
			r.Instant, r.Effective = Effective(en, c.Timeframe, states[en.ConditionID], now)
			return r
		})
		if !ok {
			continue
		}
		if m := e.deps.Metrics; m != nil {
			m.PlaybooksSatisfied.Inc()
		}

		// the trigger bar is the newest bar among the entries
		var anchor string
		var bar time.Time
		ids := make([]string, 0, len(states))
		for id := range states {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if b := states[id].LastBarEvaluated; b.After(bar) {
				bar, anchor = b, id
			}
		}
		c := plan.Conditions[anchor]
		snap := model.TriggerSnapshot{Summary: playbookSummary(&pb), Entries: entryResults, Values: map[string]float64{}}
		if r, ok := results[anchor]; ok {
			snap.Price, snap.Volume = r.price, r.volume
		}
		for _, er := range entryResults {
			if r, ok := results[er.ConditionID]; ok {
				for k, v := range r.values {
					snap.Values[k] = v
				}
			}
		}

		for _, sub := range pp.Subscriptions {
			ev := model.TriggerEvent{
				PlaybookID: pb.ID,
				Symbol:     c.Symbol,
				Timeframe:  c.Timeframe,
				Bar:        bar,
				Snapshot:   snap,
			}
			if e.fire(ctx, sub, ev) {
				fired++
			}
		}
	}
	return fired
}

func playbookSummary(pb *model.Playbook) string {
	name := pb.Name
	if name == "" {
		name = pb.ID
	}
	return fmt.Sprintf("playbook %s (%s of %d entries)", name, pb.GateLogic, len(pb.EnabledEntries()))
}

// fire enforces fire_mode and the active flag, then dispatches. It reports
// whether the event was handed to the dispatcher.
func (e *Engine) fire(ctx context.Context, sub model.Subscription, ev model.TriggerEvent) bool {
	log := e.log.With("subscription_id", sub.ID, "target_id", ev.TargetID(), "bar", ev.Bar)

	claimed, err := e.deps.State.ClaimBar(ctx, sub.ID, ev.Bar)
	if err != nil {
		log.Error("claim bar failed", "error", err)
		return false
	}
	if !claimed {
		if m := e.deps.Metrics; m != nil {
			m.DebouncedTotal.Inc()
		}
		return false
	}

	if sub.FireMode == model.FireOneShot {
		changed, err := e.deps.Subs.Deactivate(ctx, sub.ID)
		if err != nil {
			log.Error("one-shot deactivate failed", "error", err)
			return false
		}
		if !changed {
			return false
		}
	} else {
		active, err := e.deps.Subs.IsActive(ctx, sub.ID)
		if err != nil {
			log.Error("active check failed", "error", err)
			return false
		}
		if !active {
			return false
		}
	}

	ev.ID = uuid.NewString()
	ev.SubscriptionID = sub.ID
	ev.ConsumerType = sub.Consumer.Type
	ev.ConsumerID = sub.Consumer.ID
	ev.UserID = sub.Consumer.UserID
	ev.Action = sub.Action
	ev.FiredAt = e.now()

	t0 := time.Now()
	if err := e.deps.Dispatcher.Dispatch(ctx, sub, ev); err != nil {
		log.Warn("dispatch failed", "trigger_id", ev.ID, "error", err)
	} else {
		log.Info("trigger fired", "trigger_id", ev.ID, "consumer_id", ev.ConsumerID, "action", ev.Action.Type)
	}
	if m := e.deps.Metrics; m != nil {
		m.DispatchDur.Observe(time.Since(t0).Seconds())
	}
	return true
}
