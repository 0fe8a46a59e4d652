package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/planner"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/memory"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/subscription"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// bar returns the open time of 1h bar k.
func bar(k int) time.Time { return base.Add(time.Duration(k) * time.Hour) }

// after returns a wall clock just past the close of 1h bar k.
func after(k int) time.Time { return bar(k + 1).Add(time.Second) }

// scriptedLib makes every indicator equal to the bar's close, so tests
// script indicator values through closes.
type scriptedLib struct {
	fail map[string]bool
}

func (l scriptedLib) Compute(spec indicator.Spec, candles []model.Candle) (indicator.Output, error) {
	if l.fail[spec.Name] {
		return nil, errors.New("boom")
	}
	vals := make([]float64, len(candles))
	for i, c := range candles {
		vals[i] = c.Close
	}
	return indicator.Output{indicator.ComponentValue: vals, indicator.ComponentMACD: vals}, nil
}

func (scriptedLib) Lookback(indicator.Spec) int { return 1 }

type fakeSource struct {
	mu      sync.Mutex
	candles map[string][]model.Candle
	fail    map[string]error
	calls   int
}

func newSource() *fakeSource {
	return &fakeSource{candles: map[string][]model.Candle{}, fail: map[string]error{}}
}

func (s *fakeSource) series(symbol string, tf model.Timeframe, closes ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Candle
	for k, c := range closes {
		out = append(out, model.Candle{
			Symbol: symbol, Timeframe: tf, OpenTime: base.Add(time.Duration(k) * tf.Duration()),
			Open: c, High: c, Low: c, Close: c, Volume: 10,
		})
	}
	s.candles[symbol+":"+string(tf)] = out
}

func (s *fakeSource) FetchCandles(_ context.Context, symbol string, tf model.Timeframe, _ int) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.fail[symbol]; err != nil {
		return nil, err
	}
	return append([]model.Candle(nil), s.candles[symbol+":"+string(tf)]...), nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.TriggerEvent
}

func (r *recorder) Dispatch(_ context.Context, _ model.Subscription, ev model.TriggerEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.TargetID() == target {
			n++
		}
	}
	return n
}

type harness struct {
	cat    *memory.Catalog
	reg    *registry.Registry
	subs   *subscription.Service
	state  *memory.StateStore
	source *fakeSource
	rec    *recorder
	lib    scriptedLib
}

func newHarness() *harness {
	cat := memory.NewCatalog()
	return &harness{
		cat:    cat,
		reg:    registry.New(cat, nil),
		subs:   subscription.New(cat, nil),
		state:  memory.NewStateStore(),
		source: newSource(),
		rec:    &recorder{},
	}
}

func (h *harness) engine() *Engine {
	return New(Config{Workers: 4}, Deps{
		Plans:      planner.New(h.cat, h.lib, 0, nil),
		Source:     h.source,
		Library:    h.lib,
		State:      h.state,
		Subs:       h.subs,
		Dispatcher: h.rec,
	})
}

func (h *harness) register(t *testing.T, body map[string]any) model.Condition {
	t.Helper()
	c, _, err := h.reg.Register(context.Background(), body)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return c
}

func (h *harness) subscribe(t *testing.T, consumer string, kind model.TargetKind, id string, mode model.FireMode) model.Subscription {
	t.Helper()
	s, _, err := h.subs.Subscribe(context.Background(), subscription.Request{
		Consumer: model.Consumer{Type: model.ConsumerBot, ID: consumer, UserID: "user_1"},
		Target:   model.Target{Kind: kind, ID: id},
		Action:   model.Action{Type: model.ActionBotTrigger, BotAction: "execute_entry"},
		FireMode: mode,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return s
}

func rsiBelow30(symbol string) map[string]any {
	return map[string]any{"indicator": "RSI", "settings": map[string]any{"period": 14}, "symbol": symbol, "timeframe": "1h", "operator": "lt", "value": 30}
}

func TestEndToEnd_RSIWithValidityWindow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, rsiBelow30("BTCUSDT"))
	h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FirePerBar)

	pb, err := h.reg.CreatePlaybook(ctx, "user_1", registry.PlaybookInput{
		Entries: []registry.EntryInput{{ConditionID: cond.ID, ValidityDuration: 1, ValidityUnit: "bars"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.subscribe(t, "bot_2", model.TargetPlaybook, pb.ID, model.FirePerBar)

	h.source.series("BTCUSDT", model.TF1h, 32, 28, 31, 35, 36)
	eng := h.engine()

	want := []struct{ cond, playbook int }{
		{0, 0}, // RSI 32
		{1, 1}, // RSI 28: instant
		{1, 2}, // RSI 31: still inside the one-bar window
		{1, 2}, // RSI 35: window expired
	}
	for k, w := range want {
		if _, err := eng.RunCycle(ctx, after(k)); err != nil {
			t.Fatalf("cycle %d: %v", k, err)
		}
		if got := h.rec.count(cond.ID); got != w.cond {
			t.Errorf("bar %d: condition triggers = %d, want %d", k, got, w.cond)
		}
		if got := h.rec.count(pb.ID); got != w.playbook {
			t.Errorf("bar %d: playbook triggers = %d, want %d", k, got, w.playbook)
		}
	}

	for _, ev := range h.rec.events {
		if ev.TargetID() == cond.ID && !ev.Bar.Equal(bar(1)) {
			t.Errorf("condition trigger bar = %v, want %v", ev.Bar, bar(1))
		}
		if ev.Action.BotAction != "execute_entry" || ev.ConsumerID == "" || ev.ID == "" {
			t.Errorf("event not filled from subscription: %+v", ev)
		}
	}
}

func TestPerBar_FiresOncePerBar(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, rsiBelow30("BTCUSDT"))
	h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FirePerBar)
	h.source.series("BTCUSDT", model.TF1h, 20, 21, 22)

	eng := h.engine()
	for i := 0; i < 3; i++ {
		eng.RunCycle(ctx, after(0))
	}
	// a second engine over the same state must not re-fire the bar either
	h.engine().RunCycle(ctx, after(0).Add(30*time.Second))
	if got := h.rec.count(cond.ID); got != 1 {
		t.Fatalf("triggers on bar 0 = %d, want 1", got)
	}

	eng.RunCycle(ctx, after(1))
	if got := h.rec.count(cond.ID); got != 2 {
		t.Errorf("triggers after bar 1 = %d, want 2", got)
	}
}

func TestPerBar_NoFetchUntilNextBar(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, rsiBelow30("BTCUSDT"))
	h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FirePerBar)
	h.source.series("BTCUSDT", model.TF1h, 50, 50)

	eng := h.engine()
	eng.RunCycle(ctx, after(0))
	eng.RunCycle(ctx, after(0).Add(time.Second))
	eng.RunCycle(ctx, after(0).Add(2*time.Second))
	if h.source.calls != 1 {
		t.Errorf("fetches = %d, want 1 while no new bar closed", h.source.calls)
	}
}

func TestOneShot_DisablesAfterFirstFire(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, rsiBelow30("BTCUSDT"))
	sub := h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FireOneShot)
	h.source.series("BTCUSDT", model.TF1h, 28, 27, 26)

	eng := h.engine()
	for k := 0; k < 3; k++ {
		eng.RunCycle(ctx, after(k))
	}
	if got := h.rec.count(cond.ID); got != 1 {
		t.Errorf("one_shot triggers = %d, want 1", got)
	}
	got, err := h.cat.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusInactive {
		t.Errorf("status = %s, want inactive", got.Status)
	}
}

func TestCrossesAbove_NeedsPriorSample(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, map[string]any{"type": "price", "symbol": "BTCUSDT", "timeframe": "1h", "operator": "crosses_above", "value": 30})
	h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FirePerBar)
	h.source.series("BTCUSDT", model.TF1h, 31, 29, 31, 32)

	eng := h.engine()
	want := []int{0, 0, 1, 1} // bar 0 has no prior; 29 -> 31 crosses; 31 -> 32 is sustained
	for k, w := range want {
		eng.RunCycle(ctx, after(k))
		if got := h.rec.count(cond.ID); got != w {
			t.Errorf("bar %d: triggers = %d, want %d", k, got, w)
		}
	}
}

func TestBatchIsolation_DataSourceFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	btc := h.register(t, rsiBelow30("BTCUSDT"))
	eth := h.register(t, rsiBelow30("ETHUSDT"))
	h.subscribe(t, "bot_1", model.TargetCondition, btc.ID, model.FirePerBar)
	h.subscribe(t, "bot_2", model.TargetCondition, eth.ID, model.FirePerBar)
	h.source.series("BTCUSDT", model.TF1h, 20)
	h.source.series("ETHUSDT", model.TF1h, 20)
	h.source.fail["ETHUSDT"] = errors.New("exchange 503")

	eng := h.engine()
	rep, err := eng.RunCycle(ctx, after(0))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Failed != 1 || rep.Processed != 1 {
		t.Errorf("report = %+v, want 1 failed and 1 processed", rep)
	}
	if h.rec.count(btc.ID) != 1 || h.rec.count(eth.ID) != 0 {
		t.Errorf("btc=%d eth=%d, want 1/0", h.rec.count(btc.ID), h.rec.count(eth.ID))
	}

	// the failed batch retries on the next tick
	delete(h.source.fail, "ETHUSDT")
	eng.RunCycle(ctx, after(0).Add(time.Second))
	if h.rec.count(eth.ID) != 1 {
		t.Errorf("eth after recovery = %d, want 1", h.rec.count(eth.ID))
	}
}

func TestComputeError_IsolatedToCondition(t *testing.T) {
	h := newHarness()
	h.lib = scriptedLib{fail: map[string]bool{"EMA": true}}
	ctx := context.Background()
	rsi := h.register(t, rsiBelow30("BTCUSDT"))
	ema := h.register(t, map[string]any{"indicator": "EMA", "symbol": "BTCUSDT", "timeframe": "1h", "operator": "lt", "value": 30})
	h.subscribe(t, "bot_1", model.TargetCondition, rsi.ID, model.FirePerBar)
	h.subscribe(t, "bot_2", model.TargetCondition, ema.ID, model.FirePerBar)
	h.source.series("BTCUSDT", model.TF1h, 20)

	h.engine().RunCycle(ctx, after(0))
	if h.rec.count(rsi.ID) != 1 || h.rec.count(ema.ID) != 0 {
		t.Errorf("rsi=%d ema=%d, want 1/0", h.rec.count(rsi.ID), h.rec.count(ema.ID))
	}
	st, found, _ := h.state.LoadState(ctx, model.StateKeyFor(&ema))
	if !found || st.LastResult || !st.LastBarEvaluated.Equal(bar(0)) {
		t.Errorf("ema state = %+v found=%v", st, found)
	}
}

func TestStoppedConsumer_ReceivesNothing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, rsiBelow30("BTCUSDT"))
	h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FirePerBar)
	h.source.series("BTCUSDT", model.TF1h, 20, 20)

	eng := h.engine()
	eng.RunCycle(ctx, after(0))
	if _, err := h.subs.StopConsumer(ctx, "user_1", "bot_1"); err != nil {
		t.Fatal(err)
	}
	eng.RunCycle(ctx, after(1))
	if got := h.rec.count(cond.ID); got != 1 {
		t.Errorf("triggers = %d, want 1 (none after stop)", got)
	}
}

func TestFormingCandleIgnored(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cond := h.register(t, rsiBelow30("BTCUSDT"))
	h.subscribe(t, "bot_1", model.TargetCondition, cond.ID, model.FirePerBar)
	// bar 1 is still forming at after(0) and would satisfy the condition
	h.source.series("BTCUSDT", model.TF1h, 50, 10)

	h.engine().RunCycle(ctx, after(0))
	if got := h.rec.count(cond.ID); got != 0 {
		t.Errorf("triggers = %d, want 0 from a forming bar", got)
	}
}

func TestPlaybook_AllGateAcrossTimeframes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	fast := h.register(t, rsiBelow30("BTCUSDT"))
	slow := h.register(t, map[string]any{"type": "price", "symbol": "BTCUSDT", "timeframe": "4h", "operator": "gt", "value": 100})

	pb, err := h.reg.CreatePlaybook(ctx, "user_1", registry.PlaybookInput{
		GateLogic: "ALL",
		Entries: []registry.EntryInput{
			{ConditionID: fast.ID, Priority: 1, ValidityDuration: 1},
			{ConditionID: slow.ID, Priority: 2},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.subscribe(t, "bot_1", model.TargetPlaybook, pb.ID, model.FirePerBar)

	// 1h: RSI 25 on bar 3 only. 4h: close 150 on the first 4h bar.
	h.source.series("BTCUSDT", model.TF1h, 50, 50, 50, 25, 50, 50)
	h.source.series("BTCUSDT", model.TF4h, 150, 150)

	eng := h.engine()
	eng.RunCycle(ctx, after(3)) // 1h bar 3 and 4h bar 0 close together
	if got := h.rec.count(pb.ID); got != 1 {
		t.Fatalf("bar 3: playbook triggers = %d, want 1", got)
	}
	eng.RunCycle(ctx, after(4)) // RSI back to 50, inside validity
	if got := h.rec.count(pb.ID); got != 2 {
		t.Errorf("bar 4: playbook triggers = %d, want 2", got)
	}
	eng.RunCycle(ctx, after(5)) // validity expired
	if got := h.rec.count(pb.ID); got != 2 {
		t.Errorf("bar 5: playbook triggers = %d, want 2", got)
	}
}
