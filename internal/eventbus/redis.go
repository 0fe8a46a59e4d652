package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/breaker"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

const (
	// TriggerChannel carries every trigger event as JSON (PubSub, at-most-once).
	TriggerChannel = "trigger:events"
	// TriggerStream keeps a capped history for consumers that reconnect.
	TriggerStream = "trigger:stream"
)

// RedisPublisher writes trigger events to a PubSub channel and a capped stream in
// one pipeline.
type RedisPublisher struct {
	client *goredis.Client
	cb     *breaker.Breaker
	maxLen int64
}

// NewRedisPublisher creates a publisher. maxLen caps the stream (approximate trim).
func NewRedisPublisher(client *goredis.Client, cb *breaker.Breaker, maxLen int64) *RedisPublisher {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisPublisher{client: client, cb: cb, maxLen: maxLen}
}

func (p *RedisPublisher) PublishTrigger(ctx context.Context, ev model.TriggerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	send := func() error {
		pipe := p.client.Pipeline()
		pipe.Publish(ctx, TriggerChannel, payload)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: TriggerStream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"key":  ev.IdempotencyKey(),
				"data": string(payload),
			},
		})
		_, err := pipe.Exec(ctx)
		return err
	}
	if p.cb != nil {
		err = p.cb.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		return fmt.Errorf("redis publish trigger: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }

// SubscribeRedis forwards events published on TriggerChannel to handler
// until ctx is cancelled. Malformed messages are logged and skipped.
func SubscribeRedis(ctx context.Context, client *goredis.Client, handler func(model.TriggerEvent)) error {
	pubsub := client.Subscribe(ctx, TriggerChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("[redis-sub] subscribed to %s", TriggerChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.TriggerEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[redis-sub] bad payload: %v", err)
				continue
			}
			handler(ev)
		}
	}
}

// RecentRedisTriggers reads up to count events from the capped stream, newest first.
func RecentRedisTriggers(ctx context.Context, client *goredis.Client, count int64) ([]model.TriggerEvent, error) {
	msgs, err := client.XRevRangeN(ctx, TriggerStream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.TriggerEvent, 0, len(msgs))
	for _, m := range msgs {
		data, _ := m.Values["data"].(string)
		var ev model.TriggerEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
