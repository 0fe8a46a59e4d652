// Package sqlite persists the catalog, evaluation state, trigger log and
// candles in a single SQLite file.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/condengine.db"
}

// Store implements model.Catalog, model.StateStore, model.TriggerLog and the
// candle source/sink on one database handle.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open creates or opens the database in WAL mode and applies the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer; serializes the read-check-insert in CreateSubscription
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conditions (
			id         TEXT    PRIMARY KEY,
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			body       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS playbooks (
			id         TEXT    PRIMARY KEY,
			owner_id   TEXT    NOT NULL,
			body       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id            TEXT    PRIMARY KEY,
			consumer_type TEXT    NOT NULL,
			consumer_id   TEXT    NOT NULL,
			user_id       TEXT    NOT NULL,
			target_kind   TEXT    NOT NULL,
			target_id     TEXT    NOT NULL,
			action        TEXT    NOT NULL,
			fire_mode     TEXT    NOT NULL,
			status        TEXT    NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_subs_consumer ON subscriptions(consumer_id);
		CREATE INDEX IF NOT EXISTS idx_subs_user ON subscriptions(user_id);
		CREATE INDEX IF NOT EXISTS idx_subs_target ON subscriptions(target_kind, target_id);
		DROP INDEX IF EXISTS idx_subs_active;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subs_active_owner
			ON subscriptions(user_id, consumer_type, consumer_id, target_kind, target_id) WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS condition_state (
			state_key  TEXT    PRIMARY KEY,
			body       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS fired_bars (
			subscription_id TEXT    PRIMARY KEY,
			bar             INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trigger_log (
			id              TEXT    PRIMARY KEY,
			idempotency_key TEXT    NOT NULL,
			subscription_id TEXT    NOT NULL,
			consumer_id     TEXT    NOT NULL,
			user_id         TEXT    NOT NULL,
			target_id       TEXT    NOT NULL,
			symbol          TEXT    NOT NULL,
			bar             INTEGER NOT NULL,
			action          TEXT    NOT NULL,
			outcome         TEXT    NOT NULL,
			error           TEXT,
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trigger_user ON trigger_log(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_trigger_created ON trigger_log(created_at);

		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			open_time INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			PRIMARY KEY (symbol, timeframe, open_time)
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
