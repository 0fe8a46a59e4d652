package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

func (s *Store) PutCondition(ctx context.Context, c model.Condition) (bool, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("marshal condition: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conditions (id, symbol, timeframe, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Symbol, string(c.Timeframe), string(body), c.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("sqlite insert condition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetCondition(ctx context.Context, id string) (model.Condition, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM conditions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Condition{}, model.NotFound("condition", id)
	}
	if err != nil {
		return model.Condition{}, fmt.Errorf("sqlite get condition: %w", err)
	}
	var c model.Condition
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return model.Condition{}, fmt.Errorf("decode condition %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) GetConditions(ctx context.Context, ids []string) (map[string]model.Condition, error) {
	out := make(map[string]model.Condition, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM conditions WHERE id IN (`+placeholders(len(ids))+`)`, args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query conditions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("sqlite scan conditions: %w", err)
		}
		var c model.Condition
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("decode condition %s: %w", id, err)
		}
		out[id] = c
	}
	return out, rows.Err()
}

func (s *Store) CountConditions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conditions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count conditions: %w", err)
	}
	return n, nil
}

func (s *Store) PutPlaybook(ctx context.Context, p model.Playbook) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal playbook: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO playbooks (id, owner_id, body, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.OwnerID, string(body), p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite put playbook: %w", err)
	}
	return nil
}

func (s *Store) GetPlaybook(ctx context.Context, id string) (model.Playbook, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM playbooks WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Playbook{}, model.NotFound("playbook", id)
	}
	if err != nil {
		return model.Playbook{}, fmt.Errorf("sqlite get playbook: %w", err)
	}
	var p model.Playbook
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return model.Playbook{}, fmt.Errorf("decode playbook %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) GetPlaybooks(ctx context.Context, ids []string) (map[string]model.Playbook, error) {
	out := make(map[string]model.Playbook, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM playbooks WHERE id IN (`+placeholders(len(ids))+`)`, args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query playbooks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("sqlite scan playbooks: %w", err)
		}
		var p model.Playbook
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode playbook %s: %w", id, err)
		}
		out[id] = p
	}
	return out, rows.Err()
}

const subColumns = `id, consumer_type, consumer_id, user_id, target_kind, target_id, action, fire_mode, status, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, bool, error) {
	action, err := json.Marshal(sub.Action)
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("marshal action: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Subscription{}, false, err
	}
	defer tx.Rollback()

	existing, err := scanSubscription(tx.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions
		 WHERE user_id = ? AND consumer_type = ? AND consumer_id = ?
		   AND target_kind = ? AND target_id = ? AND status = 'active'`,
		sub.Consumer.UserID, string(sub.Consumer.Type), sub.Consumer.ID, string(sub.Target.Kind), sub.Target.ID))
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, false, fmt.Errorf("sqlite find subscription: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, string(sub.Consumer.Type), sub.Consumer.ID, sub.Consumer.UserID,
		string(sub.Target.Kind), sub.Target.ID, string(action), string(sub.FireMode), string(sub.Status),
		sub.CreatedAt.UnixMilli(), sub.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("sqlite insert subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Subscription{}, false, err
	}
	return sub, false, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, model.NotFound("subscription", id)
	}
	if err != nil {
		return model.Subscription{}, fmt.Errorf("sqlite get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, f model.SubscriptionFilter) ([]model.Subscription, error) {
	var where []string
	var params []any
	add := func(clause string, v any) {
		where = append(where, clause)
		params = append(params, v)
	}
	if f.ConsumerID != "" {
		add("consumer_id = ?", f.ConsumerID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.TargetKind != "" {
		add("target_kind = ?", string(f.TargetKind))
	}
	if f.TargetID != "" {
		add("target_id = ?", f.TargetID)
	}
	if f.ActiveOnly {
		add("status = ?", string(model.StatusActive))
	}
	q := `SELECT ` + subColumns + ` FROM subscriptions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id string, from, to model.SubscriptionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC().UnixMilli(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("sqlite update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetSubscription(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (s *Store) DeactivateConsumer(ctx context.Context, userID, consumerID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ?
		 WHERE user_id = ? AND consumer_id = ? AND status = ?`,
		string(model.StatusInactive), time.Now().UTC().UnixMilli(), userID, consumerID, string(model.StatusActive))
	if err != nil {
		return 0, fmt.Errorf("sqlite deactivate consumer: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (model.Subscription, error) {
	var (
		sub                                model.Subscription
		ctype, tkind, action, mode, status string
		created, updated                   int64
	)
	err := r.Scan(&sub.ID, &ctype, &sub.Consumer.ID, &sub.Consumer.UserID, &tkind, &sub.Target.ID,
		&action, &mode, &status, &created, &updated)
	if err != nil {
		return sub, err
	}
	sub.Consumer.Type = model.ConsumerType(ctype)
	sub.Target.Kind = model.TargetKind(tkind)
	sub.FireMode = model.FireMode(mode)
	sub.Status = model.SubscriptionStatus(status)
	sub.CreatedAt = time.UnixMilli(created).UTC()
	sub.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := json.Unmarshal([]byte(action), &sub.Action); err != nil {
		return sub, fmt.Errorf("decode action of %s: %w", sub.ID, err)
	}
	return sub, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
