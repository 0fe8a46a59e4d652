package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rsiBelow(id string, v float64) model.Condition {
	return model.Condition{
		ID: id, Symbol: "BTCUSDT", Timeframe: model.TF1h, Kind: model.KindIndicator, Operator: model.OpLT,
		Source:    model.Operand{Source: model.KindIndicator, Indicator: "RSI", Settings: &model.Settings{Period: 14}},
		Compare:   model.Compare{Mode: model.CompareValue, Value: &v},
		CreatedAt: t0,
	}
}

func TestConditions_PutIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	created, err := s.PutCondition(ctx, rsiBelow("cond_a", 30))
	if err != nil || !created {
		t.Fatalf("first put: created=%v err=%v", created, err)
	}
	created, err = s.PutCondition(ctx, rsiBelow("cond_a", 30))
	if err != nil || created {
		t.Fatalf("second put: created=%v err=%v", created, err)
	}
	s.PutCondition(ctx, rsiBelow("cond_b", 70))

	got, err := s.GetCondition(ctx, "cond_a")
	if err != nil || *got.Compare.Value != 30 || got.Source.Settings.Period != 14 {
		t.Errorf("get = %+v, %v", got, err)
	}
	if _, err := s.GetCondition(ctx, "cond_x"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown condition err = %v", err)
	}
	many, _ := s.GetConditions(ctx, []string{"cond_a", "cond_b", "cond_x"})
	if len(many) != 2 {
		t.Errorf("GetConditions returned %d, want 2", len(many))
	}
	if n, _ := s.CountConditions(ctx); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestPlaybooks_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	p := model.Playbook{
		ID: "pb_1", OwnerID: "user_1", GateLogic: model.GateAll, EvaluationOrder: model.OrderPriority,
		Entries: []model.PlaybookEntry{
			{ConditionID: "cond_a", Priority: 1, Enabled: true, ValidityDuration: 2, ValidityUnit: model.ValidityBars},
			{ConditionID: "cond_b", Priority: 2, Enabled: false, Logic: model.LogicOr},
		},
		CreatedAt: t0,
	}
	if err := s.PutPlaybook(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPlaybook(ctx, "pb_1")
	if err != nil || len(got.Entries) != 2 || got.Entries[0].ValidityDuration != 2 || got.Entries[1].Enabled {
		t.Errorf("playbook = %+v, %v", got, err)
	}
	if _, err := s.GetPlaybook(ctx, "pb_x"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown playbook err = %v", err)
	}
	if m, _ := s.GetPlaybooks(ctx, []string{"pb_1", "pb_x"}); len(m) != 1 {
		t.Errorf("GetPlaybooks returned %d", len(m))
	}
}

func sub(id, consumer, target string) model.Subscription {
	return model.Subscription{
		ID:        id,
		Consumer:  model.Consumer{Type: model.ConsumerBot, ID: consumer, UserID: "user_1"},
		Target:    model.Target{Kind: model.TargetCondition, ID: target},
		Action:    model.Action{Type: model.ActionBotTrigger, BotAction: "execute_entry"},
		FireMode:  model.FirePerBar,
		Status:    model.StatusActive,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func TestSubscriptions_Lifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if _, existing, err := s.CreateSubscription(ctx, sub("sub_1", "bot_1", "cond_a")); err != nil || existing {
		t.Fatalf("create: existing=%v err=%v", existing, err)
	}
	got, existing, err := s.CreateSubscription(ctx, sub("sub_2", "bot_1", "cond_a"))
	if err != nil || !existing || got.ID != "sub_1" {
		t.Fatalf("duplicate: got %s existing=%v err=%v", got.ID, existing, err)
	}
	if got.Action.BotAction != "execute_entry" {
		t.Errorf("action not decoded: %+v", got.Action)
	}
	s.CreateSubscription(ctx, sub("sub_3", "bot_1", "cond_b"))
	s.CreateSubscription(ctx, sub("sub_4", "bot_2", "cond_a"))

	list, _ := s.ListSubscriptions(ctx, model.SubscriptionFilter{TargetKind: model.TargetCondition, TargetID: "cond_a", ActiveOnly: true})
	if len(list) != 2 {
		t.Errorf("active on cond_a = %d, want 2", len(list))
	}

	changed, err := s.UpdateSubscriptionStatus(ctx, "sub_1", model.StatusActive, model.StatusInactive)
	if err != nil || !changed {
		t.Fatalf("deactivate: changed=%v err=%v", changed, err)
	}
	if changed, _ := s.UpdateSubscriptionStatus(ctx, "sub_1", model.StatusActive, model.StatusInactive); changed {
		t.Error("second transition should not change")
	}
	if _, err := s.UpdateSubscriptionStatus(ctx, "sub_x", model.StatusActive, model.StatusInactive); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown subscription err = %v", err)
	}

	// inactive rows no longer block a new binding
	if _, existing, err := s.CreateSubscription(ctx, sub("sub_5", "bot_1", "cond_a")); err != nil || existing {
		t.Errorf("re-subscribe: existing=%v err=%v", existing, err)
	}

	n, err := s.DeactivateConsumer(ctx, "user_1", "bot_1")
	if err != nil || n != 2 {
		t.Errorf("stop consumer deactivated %d, want 2 (err %v)", n, err)
	}
	list, _ = s.ListSubscriptions(ctx, model.SubscriptionFilter{UserID: "user_1"})
	if len(list) != 4 || list[0].ID != "sub_1" {
		t.Errorf("user list = %d rows", len(list))
	}
}

func TestSubscriptions_ScopedToOwner(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	s.CreateSubscription(ctx, sub("sub_1", "bot_1", "cond_a"))
	mine := sub("sub_2", "bot_1", "cond_a")
	mine.Consumer.UserID = "user_2"
	got, existing, err := s.CreateSubscription(ctx, mine)
	if err != nil || existing || got.ID != "sub_2" {
		t.Fatalf("same consumer name, other user: got %s existing=%v err=%v", got.ID, existing, err)
	}
	alert := sub("sub_3", "bot_1", "cond_a")
	alert.Consumer.Type = model.ConsumerAlert
	if _, existing, _ := s.CreateSubscription(ctx, alert); existing {
		t.Error("consumer type is part of the binding key")
	}

	if n, _ := s.DeactivateConsumer(ctx, "user_2", "bot_1"); n != 1 {
		t.Errorf("user_2 stop deactivated %d, want 1", n)
	}
	if first, _ := s.GetSubscription(ctx, "sub_1"); !first.Active() {
		t.Error("user_1's binding was deactivated by user_2's stop")
	}
}

func TestState_LoadSaveAndClaim(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	key := model.StateKey{ConditionID: "cond_a", Symbol: "BTCUSDT", Timeframe: model.TF1h}

	st, found, err := s.LoadState(ctx, key)
	if err != nil || found || st.Key != key {
		t.Fatalf("empty load: %+v found=%v err=%v", st, found, err)
	}

	st.LastBarEvaluated = t0
	st.LastSatisfied = t0
	st.PriorValue, st.PriorTarget, st.HasPrior, st.LastResult = 28, 30, true, true
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}
	got, found, _ := s.LoadState(ctx, key)
	if !found || !got.LastBarEvaluated.Equal(t0) || got.PriorValue != 28 || !got.HasPrior || got.Key != key {
		t.Errorf("loaded %+v", got)
	}

	claims := []struct {
		bar  time.Time
		want bool
	}{
		{t0.Add(time.Hour), true},
		{t0.Add(time.Hour), false},
		{t0, false},
		{t0.Add(2 * time.Hour), true},
	}
	for i, c := range claims {
		ok, err := s.ClaimBar(ctx, "sub_1", c.bar)
		if err != nil || ok != c.want {
			t.Errorf("claim %d: ok=%v err=%v, want %v", i, ok, err, c.want)
		}
	}
}

func TestTriggerLog_ListAndPrune(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i, user := range []string{"u1", "u2", "u1"} {
		e := model.TriggerLogEntry{
			ID: string(rune('a' + i)), IdempotencyKey: "k", SubscriptionID: "sub", UserID: user,
			Bar: t0, Action: model.ActionNotify, Outcome: model.OutcomeDelivered,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}
		if i == 1 {
			e.Outcome, e.Error = model.OutcomeFailed, "timeout"
		}
		if err := s.RecordTrigger(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	u1, _ := s.ListTriggers(ctx, "u1", 0)
	if len(u1) != 2 || u1[0].ID != "c" {
		t.Errorf("u1 triggers = %+v", u1)
	}
	all, _ := s.ListTriggers(ctx, "", 2)
	if len(all) != 2 || all[1].Error != "timeout" {
		t.Errorf("all (limit 2) = %+v", all)
	}

	n, err := s.PruneTriggers(ctx, t0.Add(90*time.Second))
	if err != nil || n != 2 {
		t.Errorf("pruned %d (err %v), want 2", n, err)
	}
}

func TestCandles_FetchAndResample(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	var hourly []model.Candle
	for i := 0; i < 10; i++ {
		c := float64(100 + i)
		hourly = append(hourly, model.Candle{Symbol: "ETHUSDT", Timeframe: model.TF1h,
			OpenTime: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1})
	}
	if err := s.SaveCandles(ctx, hourly); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchCandles(ctx, "ETHUSDT", model.TF1h, 3)
	if err != nil || len(got) != 3 || got[0].Close != 107 || got[2].Close != 109 {
		t.Fatalf("fetch 1h = %+v, %v", got, err)
	}

	four, err := s.FetchCandles(ctx, "ETHUSDT", model.TF4h, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(four) != 2 || !four[0].OpenTime.Equal(t0.Add(4*time.Hour)) || four[0].Close != 107 || four[0].Volume != 4 {
		t.Errorf("resampled 4h = %+v", four)
	}

	between, _ := s.CandlesBetween(ctx, "ETHUSDT", model.TF1h, t0.Add(2*time.Hour), t0.Add(5*time.Hour))
	if len(between) != 3 {
		t.Errorf("between = %d bars, want 3", len(between))
	}

	if _, err := s.FetchCandles(ctx, "SOLUSDT", model.TF1h, 5); !errors.Is(err, model.ErrDataSource) {
		t.Errorf("unknown symbol err = %v", err)
	}
}
