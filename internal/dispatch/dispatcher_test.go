package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/metrics"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/notification"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/memory"
)

type captureNotifier struct{ alerts []notification.Alert }

func (c *captureNotifier) Send(_ context.Context, a notification.Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []model.TriggerEvent
	err    error
}

func (p *capturePublisher) PublishTrigger(_ context.Context, ev model.TriggerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

type fakeWebhooks struct {
	url, key string
	err      error
}

func (f *fakeWebhooks) Post(_ context.Context, url string, _ []byte, key string) error {
	f.url, f.key = url, key
	return f.err
}

type captureStream struct{ n int }

func (c *captureStream) Broadcast(model.TriggerEvent) { c.n++ }

func event(action model.Action) (model.Subscription, model.TriggerEvent) {
	sub := model.Subscription{ID: "sub_1", Consumer: model.Consumer{Type: model.ConsumerBot, ID: "bot_1", UserID: "user_1"}, Action: action}
	ev := model.TriggerEvent{
		ID: "t1", ConditionID: "cond_a", SubscriptionID: sub.ID, ConsumerType: model.ConsumerBot,
		ConsumerID: "bot_1", UserID: "user_1", Symbol: "BTCUSDT", Timeframe: model.TF1h,
		Bar: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Action: action,
	}
	return sub, ev
}

func TestDispatch_NotifyRoutesByChannel(t *testing.T) {
	logs := memory.NewTriggerLog()
	tg, fallback := &captureNotifier{}, &captureNotifier{}
	stream := &captureStream{}
	d := New(Options{Log: logs, Stream: stream, Metrics: metrics.New(prometheus.NewRegistry())})
	d.RegisterNotifier("telegram", tg)
	d.RegisterNotifier("log", fallback)

	sub, ev := event(model.Action{Type: model.ActionNotify, Channel: "telegram"})
	if err := d.Dispatch(context.Background(), sub, ev); err != nil {
		t.Fatal(err)
	}
	sub, ev = event(model.Action{Type: model.ActionNotify})
	if err := d.Dispatch(context.Background(), sub, ev); err != nil {
		t.Fatal(err)
	}
	if len(tg.alerts) != 1 || len(fallback.alerts) != 1 {
		t.Errorf("telegram=%d log=%d, want 1/1", len(tg.alerts), len(fallback.alerts))
	}
	if stream.n != 2 {
		t.Errorf("streamed %d, want 2", stream.n)
	}
	entries := logs.Entries()
	if len(entries) != 2 || entries[0].Outcome != model.OutcomeDelivered || entries[0].IdempotencyKey != "cond_a:bot_1:1704067200" {
		t.Errorf("log = %+v", entries)
	}
}

func TestDispatch_BotTriggerHandlerAndBusFallback(t *testing.T) {
	logs := memory.NewTriggerLog()
	pub := &capturePublisher{}
	d := New(Options{Log: logs, Publisher: pub})

	var handled []string
	d.RegisterBot("execute_entry", BotHandlerFunc(func(_ context.Context, ev model.TriggerEvent) error {
		handled = append(handled, ev.Action.BotAction)
		return nil
	}))

	sub, ev := event(model.Action{Type: model.ActionBotTrigger, BotAction: "execute_entry"})
	if err := d.Dispatch(context.Background(), sub, ev); err != nil {
		t.Fatal(err)
	}
	// no handler for dca_step: the bus carries it
	sub, ev = event(model.Action{Type: model.ActionBotTrigger, BotAction: "dca_step"})
	if err := d.Dispatch(context.Background(), sub, ev); err != nil {
		t.Fatal(err)
	}
	if len(handled) != 1 || len(pub.events) != 2 {
		t.Errorf("handled=%v published=%d", handled, len(pub.events))
	}

	pub.err = errors.New("nats down")
	if err := d.Dispatch(context.Background(), sub, ev); !errors.Is(err, model.ErrDispatch) {
		t.Errorf("err = %v, want ErrDispatch when the bus is the only route", err)
	}
}

func TestDispatch_BotTriggerWithoutRouteIsSkipped(t *testing.T) {
	logs := memory.NewTriggerLog()
	d := New(Options{Log: logs})
	sub, ev := event(model.Action{Type: model.ActionBotTrigger, BotAction: "dca_step"})
	if err := d.Dispatch(context.Background(), sub, ev); err != nil {
		t.Fatalf("skip must not be an error: %v", err)
	}
	if e := logs.Entries(); len(e) != 1 || e[0].Outcome != model.OutcomeSkipped {
		t.Errorf("log = %+v", e)
	}
}

func TestDispatch_WebhookFailureRecorded(t *testing.T) {
	logs := memory.NewTriggerLog()
	hooks := &fakeWebhooks{err: &notification.StatusError{Code: 500}}
	d := New(Options{Log: logs, Webhooks: hooks})

	sub, ev := event(model.Action{Type: model.ActionWebhook, WebhookURL: "https://example.test/hook"})
	err := d.Dispatch(context.Background(), sub, ev)
	if !errors.Is(err, model.ErrDispatch) {
		t.Fatalf("err = %v, want ErrDispatch", err)
	}
	if hooks.url != "https://example.test/hook" || hooks.key != ev.IdempotencyKey() {
		t.Errorf("posted to %q with key %q", hooks.url, hooks.key)
	}
	e := logs.Entries()
	if len(e) != 1 || e[0].Outcome != model.OutcomeFailed || e[0].Error == "" {
		t.Errorf("log = %+v", e)
	}
}
