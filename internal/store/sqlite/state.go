package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

func (s *Store) LoadState(ctx context.Context, key model.StateKey) (model.ConditionState, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM condition_state WHERE state_key = ?`, key.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConditionState{Key: key}, false, nil
	}
	if err != nil {
		return model.ConditionState{}, false, fmt.Errorf("sqlite load state %s: %w", key, err)
	}
	var st model.ConditionState
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return model.ConditionState{}, false, fmt.Errorf("decode state %s: %w", key, err)
	}
	st.Key = key
	return st, true, nil
}

func (s *Store) SaveState(ctx context.Context, st model.ConditionState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO condition_state (state_key, body, updated_at) VALUES (?, ?, ?)`,
		st.Key.String(), string(body), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite save state %s: %w", st.Key, err)
	}
	return nil
}

// ClaimBar upserts the fired bar only when it advances.
func (s *Store) ClaimBar(ctx context.Context, subscriptionID string, bar time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fired_bars (subscription_id, bar) VALUES (?, ?)
		ON CONFLICT(subscription_id) DO UPDATE SET bar = excluded.bar
		WHERE excluded.bar > fired_bars.bar`,
		subscriptionID, bar.Unix())
	if err != nil {
		return false, fmt.Errorf("sqlite claim bar %s: %w", subscriptionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
