package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the registry, planner and evaluator from concrete
// storage (memory, SQLite, Postgres, Redis). Each implementation satisfies one
// or more of them.

// ConditionStore persists canonical conditions.
type ConditionStore interface {
	// PutCondition inserts c unless its ID already exists.
	// Returns created=false when the condition was already stored.
	PutCondition(ctx context.Context, c Condition) (created bool, err error)

	// GetCondition returns ErrNotFound for an unknown ID.
	GetCondition(ctx context.Context, id string) (Condition, error)

	// GetConditions loads many conditions; unknown IDs are omitted.
	GetConditions(ctx context.Context, ids []string) (map[string]Condition, error)

	// CountConditions returns the number of stored conditions.
	CountConditions(ctx context.Context) (int, error)
}

// PlaybookStore persists playbooks with their entries.
type PlaybookStore interface {
	PutPlaybook(ctx context.Context, p Playbook) error

	// GetPlaybook returns ErrNotFound for an unknown ID.
	GetPlaybook(ctx context.Context, id string) (Playbook, error)

	// GetPlaybooks loads many playbooks; unknown IDs are omitted.
	GetPlaybooks(ctx context.Context, ids []string) (map[string]Playbook, error)
}

// SubscriptionStore persists consumer bindings.
type SubscriptionStore interface {
	// CreateSubscription stores s unless the consumer already holds an active
	// subscription to the same target, in which case that one is returned
	// with existing=true.
	CreateSubscription(ctx context.Context, s Subscription) (stored Subscription, existing bool, err error)

	// GetSubscription returns ErrNotFound for an unknown ID.
	GetSubscription(ctx context.Context, id string) (Subscription, error)

	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]Subscription, error)

	// UpdateSubscriptionStatus moves id from one status to another only if it
	// currently has status from. Returns whether a row changed.
	UpdateSubscriptionStatus(ctx context.Context, id string, from, to SubscriptionStatus) (bool, error)

	// DeactivateConsumer marks every active subscription of userID's
	// consumer consumerID inactive.
	DeactivateConsumer(ctx context.Context, userID, consumerID string) (int, error)
}

// Catalog groups the registry-side stores. Memory, SQLite and Postgres
// backends implement all of it.
type Catalog interface {
	ConditionStore
	PlaybookStore
	SubscriptionStore

	// Close releases underlying resources.
	Close() error
}

// StateStore persists condition evaluation state and the fired-bar ledger.
type StateStore interface {
	// LoadState returns found=false when the condition was never evaluated.
	LoadState(ctx context.Context, key StateKey) (state ConditionState, found bool, err error)

	SaveState(ctx context.Context, s ConditionState) error

	// ClaimBar records bar as fired for subscriptionID. It succeeds only when
	// bar is newer than the last claimed bar, which gives per-bar debounce and
	// strict bar ordering per subscription.
	ClaimBar(ctx context.Context, subscriptionID string, bar time.Time) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// TriggerLog is the dispatch audit trail.
type TriggerLog interface {
	RecordTrigger(ctx context.Context, e TriggerLogEntry) error

	// ListTriggers returns the newest entries for a user (all users when empty).
	ListTriggers(ctx context.Context, userID string, limit int) ([]TriggerLogEntry, error)

	// PruneTriggers deletes entries created before cutoff.
	PruneTriggers(ctx context.Context, cutoff time.Time) (int64, error)
}

// CandleSource supplies OHLCV history on demand.
type CandleSource interface {
	// FetchCandles returns up to limit bars, oldest first. The newest bar
	// may still be forming.
	FetchCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)
}

// TriggerPublisher fans trigger events out to external subsystems.
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, ev TriggerEvent) error

	// Close releases underlying resources.
	Close() error
}
