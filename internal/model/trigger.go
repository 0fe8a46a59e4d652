package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// EntryResult reports one playbook entry at fold time.
type EntryResult struct {
	ConditionID string `json:"condition_id"`
	Instant     bool   `json:"instant"`   // comparison on the latest bar
	Effective   bool   `json:"effective"` // instant or inside the validity window
}

// TriggerSnapshot is the market context attached to a trigger.
type TriggerSnapshot struct {
	Price   float64            `json:"price"`
	Volume  float64            `json:"volume"`
	Values  map[string]float64 `json:"values,omitempty"` // series key -> value at the bar
	Summary string             `json:"summary"`
	Entries []EntryResult      `json:"entries,omitempty"`
}

// TriggerEvent is emitted once per subscription per qualifying bar. Handlers
// must be idempotent on IdempotencyKey.
type TriggerEvent struct {
	ID             string          `json:"trigger_id"`
	ConditionID    string          `json:"condition_id,omitempty"`
	PlaybookID     string          `json:"playbook_id,omitempty"`
	SubscriptionID string          `json:"subscription_id"`
	ConsumerType   ConsumerType    `json:"consumer_type"`
	ConsumerID     string          `json:"consumer_id"`
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Timeframe      Timeframe       `json:"timeframe"`
	Bar            time.Time       `json:"bar_timestamp"`
	Action         Action          `json:"action"`
	Snapshot       TriggerSnapshot `json:"snapshot"`
	FiredAt        time.Time       `json:"fired_at"`
}

// TargetID returns the playbook ID for playbook triggers, else the condition ID.
func (e *TriggerEvent) TargetID() string {
	if e.PlaybookID != "" {
		return e.PlaybookID
	}
	return e.ConditionID
}

// IdempotencyKey returns "target_id:consumer_id:bar_unix".
func (e *TriggerEvent) IdempotencyKey() string {
	return e.TargetID() + ":" + e.ConsumerID + ":" + strconv.FormatInt(e.Bar.Unix(), 10)
}

// JSON returns the JSON-encoded event.
func (e *TriggerEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// TriggerOutcome is the delivery result recorded in the trigger log.
type TriggerOutcome string

const (
	OutcomeDelivered TriggerOutcome = "delivered"
	OutcomeFailed    TriggerOutcome = "failed"
	OutcomeSkipped   TriggerOutcome = "skipped"
)

// TriggerLogEntry is the audit record of one dispatch.
type TriggerLogEntry struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	SubscriptionID string         `json:"subscription_id"`
	ConsumerID     string         `json:"consumer_id"`
	UserID         string         `json:"user_id"`
	TargetID       string         `json:"target_id"`
	Symbol         string         `json:"symbol"`
	Bar            time.Time      `json:"bar_timestamp"`
	Action         ActionType     `json:"action"`
	Outcome        TriggerOutcome `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
