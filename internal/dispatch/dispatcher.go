// Package dispatch delivers trigger events by action type and records every
// delivery in the trigger log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/metrics"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/notification"
)

// AnyBotAction registers the fallback bot handler.
const AnyBotAction = "*"

// BotHandler reacts to a bot_trigger action, e.g. starting a DCA entry.
type BotHandler interface {
	HandleTrigger(ctx context.Context, ev model.TriggerEvent) error
}

// BotHandlerFunc adapts a function to BotHandler.
type BotHandlerFunc func(ctx context.Context, ev model.TriggerEvent) error

func (f BotHandlerFunc) HandleTrigger(ctx context.Context, ev model.TriggerEvent) error {
	return f(ctx, ev)
}

// Broadcaster pushes events to live stream clients.
type Broadcaster interface {
	Broadcast(ev model.TriggerEvent)
}

// Webhooks posts payloads to consumer URLs.
type Webhooks interface {
	Post(ctx context.Context, url string, body []byte, key string) error
}

// Options configure a Dispatcher. Only Log is required.
type Options struct {
	Log            model.TriggerLog
	Publisher      model.TriggerPublisher
	Stream         Broadcaster
	Webhooks       Webhooks
	DefaultChannel string
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Dispatcher routes triggers to notifiers, bot handlers and webhooks.
type Dispatcher struct {
	opts      Options
	notifiers map[string]notification.Notifier
	bots      map[string]BotHandler
	log       *slog.Logger
	now       func() time.Time
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = "log"
	}
	return &Dispatcher{
		opts:      opts,
		notifiers: make(map[string]notification.Notifier),
		bots:      make(map[string]BotHandler),
		log:       opts.Logger.With("component", "dispatch"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterNotifier binds a notify channel name ("log", "telegram", ...).
func (d *Dispatcher) RegisterNotifier(channel string, n notification.Notifier) {
	d.notifiers[channel] = n
}

// RegisterBot binds a bot action name. AnyBotAction catches the rest.
func (d *Dispatcher) RegisterBot(action string, h BotHandler) {
	d.bots[action] = h
}

// Dispatch publishes ev to the bus, performs its action, then records and
// streams it. Only the delivery result is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sub model.Subscription, ev model.TriggerEvent) error {
	pubErr := d.publish(ctx, ev)
	err := d.deliver(ctx, ev, pubErr)
	outcome := model.OutcomeDelivered
	var skipped *skipError
	switch {
	case errors.As(err, &skipped):
		outcome = model.OutcomeSkipped
	case err != nil:
		outcome = model.OutcomeFailed
	}

	entry := model.TriggerLogEntry{
		ID:             ev.ID,
		IdempotencyKey: ev.IdempotencyKey(),
		SubscriptionID: sub.ID,
		ConsumerID:     ev.ConsumerID,
		UserID:         ev.UserID,
		TargetID:       ev.TargetID(),
		Symbol:         ev.Symbol,
		Bar:            ev.Bar,
		Action:         ev.Action.Type,
		Outcome:        outcome,
		CreatedAt:      d.now(),
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if rerr := d.opts.Log.RecordTrigger(ctx, entry); rerr != nil {
		d.log.Error("record trigger failed", "trigger_id", entry.ID, "error", rerr)
	}

	if s := d.opts.Stream; s != nil {
		s.Broadcast(ev)
	}
	if m := d.opts.Metrics; m != nil {
		m.TriggersTotal.WithLabelValues(string(ev.Action.Type), string(outcome)).Inc()
	}

	if err != nil && outcome == model.OutcomeFailed {
		return model.DispatchError(sub.ID, err)
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, ev model.TriggerEvent) error {
	p := d.opts.Publisher
	if p == nil {
		return nil
	}
	err := p.PublishTrigger(ctx, ev)
	if err != nil {
		d.log.Warn("publish trigger failed", "trigger_id", ev.ID, "error", err)
		if m := d.opts.Metrics; m != nil {
			m.PublishErrors.WithLabelValues("bus").Inc()
		}
	}
	return err
}

// skipError marks deliveries that were intentionally not attempted.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

// deliver performs the action. Bot actions without a registered handler are
// delivered by the bus publish that already happened, so pubErr decides them.
func (d *Dispatcher) deliver(ctx context.Context, ev model.TriggerEvent, pubErr error) error {
	switch ev.Action.Type {
	case model.ActionNotify, "":
		channel := ev.Action.Channel
		if channel == "" {
			channel = d.opts.DefaultChannel
		}
		n, ok := d.notifiers[channel]
		if !ok {
			return fmt.Errorf("no notifier for channel %q", channel)
		}
		return n.Send(ctx, notification.FromTrigger(&ev))

	case model.ActionBotTrigger:
		h, ok := d.bots[ev.Action.BotAction]
		if !ok {
			h, ok = d.bots[AnyBotAction]
		}
		if !ok {
			if d.opts.Publisher != nil {
				return pubErr
			}
			return &skipError{reason: fmt.Sprintf("no handler for bot action %q", ev.Action.BotAction)}
		}
		return h.HandleTrigger(ctx, ev)

	case model.ActionWebhook:
		if d.opts.Webhooks == nil {
			return &skipError{reason: "webhooks disabled"}
		}
		return d.opts.Webhooks.Post(ctx, ev.Action.WebhookURL, ev.JSON(), ev.IdempotencyKey())
	}
	return fmt.Errorf("unknown action %q", ev.Action.Type)
}
