package model

import "time"

// ConsumerType identifies who owns a subscription.
type ConsumerType string

const (
	ConsumerBot   ConsumerType = "bot"
	ConsumerAlert ConsumerType = "alert"
)

// Consumer is an authenticated subscriber: a bot or an alert owned by UserID.
type Consumer struct {
	Type   ConsumerType `json:"consumer_type"`
	ID     string       `json:"consumer_id"`
	UserID string       `json:"user_id"`
}

// TargetKind says whether a subscription points at a condition or a playbook.
type TargetKind string

const (
	TargetCondition TargetKind = "condition"
	TargetPlaybook  TargetKind = "playbook"
)

// Target is the condition or playbook a subscription is bound to.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// ActionType routes a trigger inside the dispatcher.
type ActionType string

const (
	ActionNotify     ActionType = "notify"
	ActionBotTrigger ActionType = "bot_trigger"
	ActionWebhook    ActionType = "webhook"
)

// Action carries consumer-specific dispatch metadata.
type Action struct {
	Type       ActionType     `json:"type"`
	BotAction  string         `json:"bot_action,omitempty"`  // execute_entry, execute_dca_step_N
	WebhookURL string         `json:"webhook_url,omitempty"` // webhook only
	Channel    string         `json:"channel,omitempty"`     // notify: log, telegram, queue
	Payload    map[string]any `json:"payload,omitempty"`
}

// FireMode is the debounce policy of a subscription.
type FireMode string

const (
	FirePerBar  FireMode = "per_bar"
	FireOneShot FireMode = "one_shot"
)

// SubscriptionStatus tracks the lifecycle of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusInactive  SubscriptionStatus = "inactive"  // one-shot fired or consumer stopped
	StatusCancelled SubscriptionStatus = "cancelled" // explicit unsubscribe
)

// Subscription binds one consumer to one condition or playbook.
type Subscription struct {
	ID        string             `json:"subscription_id"`
	Consumer  Consumer           `json:"consumer"`
	Target    Target             `json:"target"`
	Action    Action             `json:"action"`
	FireMode  FireMode           `json:"fire_mode"`
	Status    SubscriptionStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Active reports whether the subscription participates in evaluation.
func (s *Subscription) Active() bool {
	return s.Status == StatusActive
}

// SubscriptionFilter narrows ListSubscriptions. Empty fields match everything.
type SubscriptionFilter struct {
	ConsumerID string
	UserID     string
	TargetKind TargetKind
	TargetID   string
	ActiveOnly bool
}

// Match reports whether s satisfies the filter.
func (f SubscriptionFilter) Match(s *Subscription) bool {
	if f.ConsumerID != "" && s.Consumer.ID != f.ConsumerID {
		return false
	}
	if f.UserID != "" && s.Consumer.UserID != f.UserID {
		return false
	}
	if f.TargetKind != "" && s.Target.Kind != f.TargetKind {
		return false
	}
	if f.TargetID != "" && s.Target.ID != f.TargetID {
		return false
	}
	if f.ActiveOnly && !s.Active() {
		return false
	}
	return true
}
