package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/breaker"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

type fakeJS struct {
	subjects []string
	n        int
}

func (f *fakeJS) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subjects = append(f.subjects, subject)
	f.n = len(opts)
	return &jetstream.PubAck{Stream: "TRIGGERS", Sequence: uint64(len(f.subjects))}, nil
}

func event() model.TriggerEvent {
	return model.TriggerEvent{
		ConditionID:  "cond_a",
		ConsumerType: model.ConsumerBot,
		ConsumerID:   "bot_1",
		Bar:          time.Unix(1704067200, 0).UTC(),
	}
}

func TestNATSPublisher_SubjectAndMsgID(t *testing.T) {
	js := &fakeJS{}
	p := &NATSPublisher{js: js, prefix: "triggers"}

	if err := p.PublishTrigger(context.Background(), event()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(js.subjects) != 1 || js.subjects[0] != "triggers.bot" {
		t.Errorf("subjects = %v, want [triggers.bot]", js.subjects)
	}
	if js.n != 1 {
		t.Errorf("publish opts = %d, want the message ID option", js.n)
	}
}

type sink struct {
	err   error
	calls int
}

func (s *sink) PublishTrigger(context.Context, model.TriggerEvent) error {
	s.calls++
	return s.err
}

func (s *sink) Close() error { return nil }

func TestMulti_ContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	a, b := &sink{err: boom}, &sink{}
	err := Multi{a, b}.PublishTrigger(context.Background(), event())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
	if err := (Multi{b}).PublishTrigger(context.Background(), event()); err != nil {
		t.Errorf("healthy sinks: %v", err)
	}
}

func TestNATSConfig_Defaults(t *testing.T) {
	var c NATSConfig
	c.defaults()
	if c.Stream != "TRIGGERS" || c.SubjectPrefix != "triggers" || c.MaxAge != 7*24*time.Hour {
		t.Errorf("defaults = %+v", c)
	}
}

func TestRedisPublisher_TripsBreaker(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	cb := breaker.New("redis-bus", 1, time.Hour)
	p := NewRedisPublisher(client, cb, 0)

	if err := p.PublishTrigger(context.Background(), event()); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
	err := p.PublishTrigger(context.Background(), event())
	if !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("second publish err = %v, want breaker open", err)
	}
}
