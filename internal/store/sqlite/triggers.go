package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

func (s *Store) RecordTrigger(ctx context.Context, e model.TriggerLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trigger_log
			(id, idempotency_key, subscription_id, consumer_id, user_id, target_id, symbol, bar, action, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IdempotencyKey, e.SubscriptionID, e.ConsumerID, e.UserID, e.TargetID, e.Symbol,
		e.Bar.Unix(), string(e.Action), string(e.Outcome), nullString(e.Error), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite record trigger: %w", err)
	}
	return nil
}

func (s *Store) ListTriggers(ctx context.Context, userID string, limit int) ([]model.TriggerLogEntry, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idempotency_key, subscription_id, consumer_id, user_id, target_id, symbol, bar, action, outcome, error, created_at
		FROM trigger_log
		WHERE ? = '' OR user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite list triggers: %w", err)
	}
	defer rows.Close()

	var out []model.TriggerLogEntry
	for rows.Next() {
		var (
			e               model.TriggerLogEntry
			action, outcome string
			errText         sql.NullString
			bar, created    int64
		)
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.SubscriptionID, &e.ConsumerID, &e.UserID, &e.TargetID,
			&e.Symbol, &bar, &action, &outcome, &errText, &created); err != nil {
			return nil, fmt.Errorf("sqlite scan trigger: %w", err)
		}
		e.Action = model.ActionType(action)
		e.Outcome = model.TriggerOutcome(outcome)
		e.Error = errText.String
		e.Bar = time.Unix(bar, 0).UTC()
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PruneTriggers(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trigger_log WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite prune triggers: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
