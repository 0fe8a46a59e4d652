// cmd/replay runs stored candles from SQLite through the evaluator, bar by
// bar, and prints every trigger the registered rules would have fired.
//
// Usage:
//
//	go run ./cmd/replay --db=data/condengine.db --rules=rules.yaml --from=2024-01-01T00:00:00Z --to=2024-02-01T00:00:00Z
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/dispatch"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/evaluator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/logger"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/marketdata"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/notification"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/planner"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/memory"
	sqlitestore "github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/sqlite"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/subscription"
)

const replayUser = "replay"

// rules is the replay input: raw condition bodies and playbooks, in the
// same shape the HTTP API accepts.
type rules struct {
	Conditions []map[string]any `yaml:"conditions"`
	Playbooks  []map[string]any `yaml:"playbooks"`
}

// printNotifier writes alerts to stdout.
type printNotifier struct{ count int }

func (p *printNotifier) Send(_ context.Context, a notification.Alert) error {
	p.count++
	fmt.Printf("  %s\n    %s\n", a.Title, strings.ReplaceAll(a.Message, "\n", "\n    "))
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/condengine.db", "Path to SQLite database with stored candles")
	rulesPath := flag.String("rules", "rules.yaml", "YAML file with conditions and playbooks")
	fromStr := flag.String("from", "", "Replay start, RFC3339 (default: 7 days before --to)")
	toStr := flag.String("to", "", "Replay end, RFC3339 (default: now)")
	step := flag.Duration("step", 0, "Clock step (default: smallest planned timeframe)")
	warmup := flag.Int("warmup", 50, "Extra warmup bars per series")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	lg := logger.Init("replay", logger.ParseLevel(*level))

	to := time.Now().UTC()
	if *toStr != "" {
		to = mustTime("to", *toStr)
	}
	from := to.Add(-7 * 24 * time.Hour)
	if *fromStr != "" {
		from = mustTime("from", *fromStr)
	}
	if !from.Before(to) {
		log.Fatal("[replay] --from must be before --to")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer store.Close()

	// The live catalog is never touched: rules live in memory for this run.
	catalog := memory.NewCatalog()
	reg := registry.New(catalog, lg)
	subs := subscription.New(catalog, lg)
	if err := loadRules(ctx, *rulesPath, reg, subs); err != nil {
		log.Fatalf("[replay] %v", err)
	}

	lib := indicator.NewStandard()
	plans := planner.New(catalog, lib, *warmup, lg)
	plan, err := plans.Build(ctx)
	if err != nil {
		log.Fatalf("[replay] plan: %v", err)
	}
	if len(plan.Entries) == 0 {
		log.Fatal("[replay] rules produced an empty plan")
	}

	// Load history per series, including warmup before --from.
	history := make(map[string][]model.Candle, len(plan.Entries))
	smallest := time.Duration(0)
	for _, b := range plan.Entries {
		d := b.Timeframe.Duration()
		if smallest == 0 || d < smallest {
			smallest = d
		}
		candles, err := store.CandlesBetween(ctx, b.Symbol, b.Timeframe, from.Add(-time.Duration(b.Lookback)*d), to)
		if err != nil {
			log.Fatalf("[replay] load %s: %v", b.Key(), err)
		}
		if len(candles) == 0 {
			log.Printf("[replay] WARNING: no stored candles for %s", b.Key())
		}
		history[b.Key()] = candles
	}
	if *step <= 0 {
		*step = smallest
	}

	printer := &printNotifier{}
	triggers := memory.NewTriggerLog()
	disp := dispatch.New(dispatch.Options{Log: triggers, DefaultChannel: "print", Logger: lg})
	disp.RegisterNotifier("print", printer)

	source := marketdata.NewStaticSource()
	engine := evaluator.New(evaluator.Config{Workers: 4, FetchTimeout: 5 * time.Second}, evaluator.Deps{
		Plans:      plans,
		Source:     source,
		Library:    lib,
		State:      memory.NewStateStore(),
		Subs:       subs,
		Dispatcher: disp,
		Log:        lg,
	})

	cursor := make(map[string]int, len(history))
	var cycles, evaluated int
	for now := from; !now.After(to) && ctx.Err() == nil; now = now.Add(*step) {
		for key, candles := range history {
			i := cursor[key]
			for ; i < len(candles) && !candles[i].OpenTime.After(now); i++ {
				source.Append(candles[i])
			}
			cursor[key] = i
		}
		rep, err := engine.RunCycle(ctx, now)
		if err != nil {
			slog.Warn("cycle failed", "now", now, "error", err)
		}
		cycles++
		evaluated += rep.Evaluated
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          REPLAY COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Series:            %-16d ║\n", len(history))
	fmt.Printf("║  Cycles:            %-16d ║\n", cycles)
	fmt.Printf("║  Evaluations:       %-16d ║\n", evaluated)
	fmt.Printf("║  Triggers:          %-16d ║\n", printer.count)
	fmt.Println("╚══════════════════════════════════════╝")
}

// loadRules registers every condition and playbook in path and subscribes the
// replay consumer to each of them.
func loadRules(ctx context.Context, path string, reg *registry.Registry, subs *subscription.Service) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}
	var r rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	subscribe := func(target model.Target) error {
		_, _, err := subs.Subscribe(ctx, subscription.Request{
			Consumer: model.Consumer{Type: model.ConsumerAlert, ID: "replay_" + target.ID, UserID: replayUser},
			Target:   target,
			Action:   model.Action{Type: model.ActionNotify, Channel: "print"},
			FireMode: model.FirePerBar,
		})
		return err
	}

	for i, body := range r.Conditions {
		c, _, err := reg.Register(ctx, body)
		if err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		if err := subscribe(model.Target{Kind: model.TargetCondition, ID: c.ID}); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		log.Printf("[replay] condition %s %s %s", c.ID, c.Symbol, c.Timeframe)
	}
	for i, raw := range r.Playbooks {
		// playbook input is defined by its JSON shape
		buf, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("playbook %d: %w", i, err)
		}
		var in registry.PlaybookInput
		if err := json.Unmarshal(buf, &in); err != nil {
			return fmt.Errorf("playbook %d: %w", i, err)
		}
		pb, err := reg.CreatePlaybook(ctx, replayUser, in)
		if err != nil {
			return fmt.Errorf("playbook %d: %w", i, err)
		}
		if err := subscribe(model.Target{Kind: model.TargetPlaybook, ID: pb.ID}); err != nil {
			return fmt.Errorf("playbook %d: %w", i, err)
		}
		log.Printf("[replay] playbook %s (%d entries)", pb.ID, len(pb.Entries))
	}
	return nil
}

func mustTime(name, s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Fatalf("[replay] bad --%s: %v", name, err)
	}
	return t.UTC()
}
