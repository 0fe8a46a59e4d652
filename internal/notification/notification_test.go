package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

func TestWebhookClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != "k1" {
			t.Errorf("missing idempotency key")
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewWebhookClient(time.Second, 3, time.Millisecond, 5*time.Millisecond)
	if err := c.Post(context.Background(), srv.URL, []byte(`{}`), "k1"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestWebhookClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWebhookClient(time.Second, 5, time.Millisecond, time.Millisecond)
	err := c.Post(context.Background(), srv.URL, []byte(`{}`), "")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want status 400", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestWebhookClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWebhookClient(time.Second, 2, time.Millisecond, time.Millisecond)
	if err := c.Post(context.Background(), srv.URL, nil, ""); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 0)
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Errorf("step %d: %v, want %v", i, got, w*time.Millisecond)
		}
	}
	b.Reset()
	if b.Attempt() != 0 || b.Next() != 100*time.Millisecond {
		t.Error("Reset did not restart the sequence")
	}
}

type fakeBot struct {
	sent []tgbot.MessageConfig
}

func (f *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	if m, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbot.Message{}, nil
}

func TestTelegramNotifier_EscapesMarkdown(t *testing.T) {
	bot := &fakeBot{}
	n := NewTelegramNotifierWith(bot, 42)
	if err := n.Send(context.Background(), Alert{Title: "RSI(14) < 30", Message: "price 1.5"}); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	m := bot.sent[0]
	if m.ChatID != 42 || m.ParseMode != tgbot.ModeMarkdownV2 {
		t.Errorf("chat=%d mode=%s", m.ChatID, m.ParseMode)
	}
	if !strings.Contains(m.Text, `RSI\(14\) < 30`) || !strings.Contains(m.Text, `1\.5`) {
		t.Errorf("text not escaped: %q", m.Text)
	}
}

func TestFromTrigger(t *testing.T) {
	ev := &model.TriggerEvent{
		ConditionID: "cond_x", ConsumerID: "bot_1", Symbol: "BTCUSDT", Timeframe: model.TF1h,
		Bar: time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC),
		Snapshot: model.TriggerSnapshot{
			Price: 42000, Summary: "RSI(14) < 30 on BTCUSDT 1h",
			Values: map[string]float64{"RSI(14)": 28.5},
		},
	}
	a := FromTrigger(ev)
	if a.Title != ev.Snapshot.Summary {
		t.Errorf("title = %q", a.Title)
	}
	if !strings.Contains(a.Message, "RSI(14) = 28.5000") || !strings.Contains(a.Message, "42000") {
		t.Errorf("message = %q", a.Message)
	}
	if a.Key != "cond_x:bot_1:1704085200" {
		t.Errorf("key = %q", a.Key)
	}
}

func TestQueueNotifier_UnreachableRedis(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	q := NewQueueNotifier(client, "", 0)
	if q.key != DefaultQueueKey || q.maxLen != 10000 {
		t.Errorf("defaults: key=%s maxLen=%d", q.key, q.maxLen)
	}
	err := q.Send(context.Background(), Alert{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), DefaultQueueKey) {
		t.Errorf("err = %v, want push failure naming the key", err)
	}
}
