// Package notification delivers trigger alerts to external channels
// (Telegram, webhooks, logs).
package notification

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Key     string     `json:"key,omitempty"` // idempotency key of the trigger
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// FromTrigger renders a trigger as a user-facing alert.
func FromTrigger(ev *model.TriggerEvent) Alert {
	title := fmt.Sprintf("%s %s", ev.Symbol, ev.Timeframe)
	if ev.Snapshot.Summary != "" {
		title = ev.Snapshot.Summary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bar %s closed at %s", ev.Bar.UTC().Format(time.RFC3339), strconv.FormatFloat(ev.Snapshot.Price, 'f', -1, 64))
	keys := make([]string, 0, len(ev.Snapshot.Values))
	for k := range ev.Snapshot.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s = %s", k, strconv.FormatFloat(ev.Snapshot.Values[k], 'f', 4, 64))
	}
	for _, e := range ev.Snapshot.Entries {
		mark := "no"
		if e.Effective {
			mark = "yes"
		}
		fmt.Fprintf(&b, "\n%s: %s", e.ConditionID, mark)
	}

	return Alert{Level: AlertInfo, Title: title, Message: b.String(), Key: ev.IdempotencyKey()}
}
