// Package postgres stores the condition catalog in PostgreSQL for
// deployments where several engine replicas share one registry.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Config holds pool settings.
type Config struct {
	DSN      string
	MaxConns int32
}

// Catalog implements model.Catalog on a pgx pool.
type Catalog struct {
	pool *pgxpool.Pool
}

// Connect opens the pool, pings the server and runs migrations.
func Connect(ctx context.Context, cfg Config) (*Catalog, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	c := &Catalog{pool: pool}
	if err := c.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Printf("[postgres] catalog ready")
	return c, nil
}

// Pool exposes the pool for health checks.
func (c *Catalog) Pool() *pgxpool.Pool { return c.pool }

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conditions (
		id         TEXT PRIMARY KEY,
		symbol     TEXT NOT NULL,
		timeframe  TEXT NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS playbooks (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id            TEXT PRIMARY KEY,
		consumer_type TEXT NOT NULL,
		consumer_id   TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		target_kind   TEXT NOT NULL,
		target_id     TEXT NOT NULL,
		action        JSONB NOT NULL,
		fire_mode     TEXT NOT NULL,
		status        TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_consumer ON subscriptions(consumer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_user ON subscriptions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_target ON subscriptions(target_kind, target_id)`,
	`DROP INDEX IF EXISTS idx_subs_active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subs_active_owner
		ON subscriptions(user_id, consumer_type, consumer_id, target_kind, target_id) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS trigger_log (
		id              TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		consumer_id     TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		target_id       TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		bar             TIMESTAMPTZ NOT NULL,
		action          TEXT NOT NULL,
		outcome         TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trigger_log_user ON trigger_log(user_id, created_at DESC)`,
}

func (c *Catalog) migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := c.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("postgres migration %d: %w", i, err)
		}
	}
	return nil
}

func (c *Catalog) PutCondition(ctx context.Context, cond model.Condition) (bool, error) {
	body, err := json.Marshal(cond)
	if err != nil {
		return false, fmt.Errorf("marshal condition: %w", err)
	}
	tag, err := c.pool.Exec(ctx,
		`INSERT INTO conditions (id, symbol, timeframe, body, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		cond.ID, cond.Symbol, string(cond.Timeframe), body, cond.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("postgres insert condition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (c *Catalog) GetCondition(ctx context.Context, id string) (model.Condition, error) {
	var body []byte
	err := c.pool.QueryRow(ctx, `SELECT body FROM conditions WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Condition{}, model.NotFound("condition", id)
	}
	if err != nil {
		return model.Condition{}, fmt.Errorf("postgres get condition: %w", err)
	}
	var cond model.Condition
	if err := json.Unmarshal(body, &cond); err != nil {
		return model.Condition{}, fmt.Errorf("decode condition %s: %w", id, err)
	}
	return cond, nil
}

func (c *Catalog) GetConditions(ctx context.Context, ids []string) (map[string]model.Condition, error) {
	out := make(map[string]model.Condition, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.pool.Query(ctx, `SELECT id, body FROM conditions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres query conditions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("postgres scan condition: %w", err)
		}
		var cond model.Condition
		if err := json.Unmarshal(body, &cond); err != nil {
			return nil, fmt.Errorf("decode condition %s: %w", id, err)
		}
		out[id] = cond
	}
	return out, rows.Err()
}

func (c *Catalog) CountConditions(ctx context.Context) (int, error) {
	var n int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conditions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count conditions: %w", err)
	}
	return n, nil
}

func (c *Catalog) PutPlaybook(ctx context.Context, p model.Playbook) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal playbook: %w", err)
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO playbooks (id, owner_id, body, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body`,
		p.ID, p.OwnerID, body, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres put playbook: %w", err)
	}
	return nil
}

func (c *Catalog) GetPlaybook(ctx context.Context, id string) (model.Playbook, error) {
	var body []byte
	err := c.pool.QueryRow(ctx, `SELECT body FROM playbooks WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Playbook{}, model.NotFound("playbook", id)
	}
	if err != nil {
		return model.Playbook{}, fmt.Errorf("postgres get playbook: %w", err)
	}
	var p model.Playbook
	if err := json.Unmarshal(body, &p); err != nil {
		return model.Playbook{}, fmt.Errorf("decode playbook %s: %w", id, err)
	}
	return p, nil
}

func (c *Catalog) GetPlaybooks(ctx context.Context, ids []string) (map[string]model.Playbook, error) {
	out := make(map[string]model.Playbook, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.pool.Query(ctx, `SELECT id, body FROM playbooks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres query playbooks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("postgres scan playbook: %w", err)
		}
		var p model.Playbook
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode playbook %s: %w", id, err)
		}
		out[id] = p
	}
	return out, rows.Err()
}

const subColumns = `id, consumer_type, consumer_id, user_id, target_kind, target_id, action, fire_mode, status, created_at, updated_at`

// CreateSubscription relies on the partial unique index: a conflicting
// insert returns no row and the active binding is read back.
func (c *Catalog) CreateSubscription(ctx context.Context, s model.Subscription) (model.Subscription, bool, error) {
	action, err := json.Marshal(s.Action)
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("marshal action: %w", err)
	}
	var id string
	err = c.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (`+subColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, consumer_type, consumer_id, target_kind, target_id) WHERE status = 'active' DO NOTHING
		 RETURNING id`,
		s.ID, string(s.Consumer.Type), s.Consumer.ID, s.Consumer.UserID, string(s.Target.Kind), s.Target.ID,
		action, string(s.FireMode), string(s.Status), s.CreatedAt, s.UpdatedAt).Scan(&id)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Subscription{}, false, fmt.Errorf("postgres insert subscription: %w", err)
	}
	existing, err := scanSubscription(c.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM subscriptions
		 WHERE user_id = $1 AND consumer_type = $2 AND consumer_id = $3
		   AND target_kind = $4 AND target_id = $5 AND status = 'active'`,
		s.Consumer.UserID, string(s.Consumer.Type), s.Consumer.ID, string(s.Target.Kind), s.Target.ID))
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("postgres find subscription: %w", err)
	}
	return existing, true, nil
}

func (c *Catalog) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	s, err := scanSubscription(c.pool.QueryRow(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Subscription{}, model.NotFound("subscription", id)
	}
	if err != nil {
		return model.Subscription{}, fmt.Errorf("postgres get subscription: %w", err)
	}
	return s, nil
}

func (c *Catalog) ListSubscriptions(ctx context.Context, f model.SubscriptionFilter) ([]model.Subscription, error) {
	q, args := listQuery(f)
	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// listQuery builds the filtered SELECT with numbered placeholders.
func listQuery(f model.SubscriptionFilter) (string, []any) {
	var where []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	if f.ConsumerID != "" {
		add("consumer_id", f.ConsumerID)
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.TargetKind != "" {
		add("target_kind", string(f.TargetKind))
	}
	if f.TargetID != "" {
		add("target_id", f.TargetID)
	}
	if f.ActiveOnly {
		add("status", string(model.StatusActive))
	}
	q := `SELECT ` + subColumns + ` FROM subscriptions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	return q + ` ORDER BY created_at, id`, args
}

func (c *Catalog) UpdateSubscriptionStatus(ctx context.Context, id string, from, to model.SubscriptionStatus) (bool, error) {
	tag, err := c.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("postgres update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := c.GetSubscription(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (c *Catalog) DeactivateConsumer(ctx context.Context, userID, consumerID string) (int, error) {
	tag, err := c.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $1, updated_at = now()
		 WHERE user_id = $2 AND consumer_id = $3 AND status = $4`,
		string(model.StatusInactive), userID, consumerID, string(model.StatusActive))
	if err != nil {
		return 0, fmt.Errorf("postgres deactivate consumer: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSubscription(r pgx.Row) (model.Subscription, error) {
	var (
		s                          model.Subscription
		ctype, tkind, mode, status string
		action                     []byte
	)
	err := r.Scan(&s.ID, &ctype, &s.Consumer.ID, &s.Consumer.UserID, &tkind, &s.Target.ID,
		&action, &mode, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Consumer.Type = model.ConsumerType(ctype)
	s.Target.Kind = model.TargetKind(tkind)
	s.FireMode = model.FireMode(mode)
	s.Status = model.SubscriptionStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if err := json.Unmarshal(action, &s.Action); err != nil {
		return s, fmt.Errorf("decode action of %s: %w", s.ID, err)
	}
	return s, nil
}

func (c *Catalog) Close() error {
	c.pool.Close()
	return nil
}
