package notification

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultQueueKey is the Redis list consumed by the notification workers.
const DefaultQueueKey = "notify:queue"

// QueueNotifier hands alerts to an external worker through a capped Redis list.
type QueueNotifier struct {
	client goredis.Cmdable
	key    string
	maxLen int64
}

// NewQueueNotifier pushes onto key, keeping at most maxLen pending alerts.
func NewQueueNotifier(client goredis.Cmdable, key string, maxLen int64) *QueueNotifier {
	if key == "" {
		key = DefaultQueueKey
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &QueueNotifier{client: client, key: key, maxLen: maxLen}
}

func (q *QueueNotifier) Send(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("queue: marshal alert: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key, data)
	pipe.LTrim(ctx, q.key, 0, q.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: push %s: %w", q.key, err)
	}
	return nil
}
