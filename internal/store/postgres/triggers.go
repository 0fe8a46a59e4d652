package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

func (c *Catalog) RecordTrigger(ctx context.Context, e model.TriggerLogEntry) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO trigger_log
			(id, idempotency_key, subscription_id, consumer_id, user_id, target_id, symbol, bar, action, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET outcome = excluded.outcome, error = excluded.error`,
		e.ID, e.IdempotencyKey, e.SubscriptionID, e.ConsumerID, e.UserID, e.TargetID, e.Symbol,
		e.Bar.UTC(), string(e.Action), string(e.Outcome), e.Error, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres record trigger: %w", err)
	}
	return nil
}

func (c *Catalog) ListTriggers(ctx context.Context, userID string, limit int) ([]model.TriggerLogEntry, error) {
	q := `SELECT id, idempotency_key, subscription_id, consumer_id, user_id, target_id, symbol, bar, action, outcome, error, created_at
		FROM trigger_log WHERE $1 = '' OR user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres list triggers: %w", err)
	}
	defer rows.Close()

	var out []model.TriggerLogEntry
	for rows.Next() {
		var (
			e               model.TriggerLogEntry
			action, outcome string
		)
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.SubscriptionID, &e.ConsumerID, &e.UserID, &e.TargetID,
			&e.Symbol, &e.Bar, &action, &outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan trigger: %w", err)
		}
		e.Action = model.ActionType(action)
		e.Outcome = model.TriggerOutcome(outcome)
		e.Bar = e.Bar.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Catalog) PruneTriggers(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM trigger_log WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres prune triggers: %w", err)
	}
	return tag.RowsAffected(), nil
}
