// Package subscription manages consumer bindings to conditions and playbooks.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Request is a subscribe call.
type Request struct {
	Consumer model.Consumer
	Target   model.Target
	Action   model.Action
	FireMode model.FireMode
}

// Service is the Subscription Store API. All writes to subscriptions go
// through it.
type Service struct {
	catalog model.Catalog
	log     *slog.Logger
	now     func() time.Time
}

// New creates a subscription service over catalog.
func New(catalog model.Catalog, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		catalog: catalog,
		log:     log.With("component", "subscriptions"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe binds a consumer to a target. A consumer is identified by its
// owner, type and id, and holds at most one active subscription per target;
// re-subscribing returns it with existing=true.
func (s *Service) Subscribe(ctx context.Context, req Request) (model.Subscription, bool, error) {
	if req.Consumer.UserID == "" {
		return model.Subscription{}, false, fmt.Errorf("%w: consumer identity required", model.ErrUnauthorized)
	}
	if req.Consumer.ID == "" {
		return model.Subscription{}, false, model.Validationf("consumer_id is required")
	}
	switch req.Consumer.Type {
	case "":
		req.Consumer.Type = model.ConsumerAlert
	case model.ConsumerBot, model.ConsumerAlert:
	default:
		return model.Subscription{}, false, model.Validationf("unknown consumer_type %q", req.Consumer.Type)
	}
	if err := s.checkTarget(ctx, req.Consumer, req.Target); err != nil {
		return model.Subscription{}, false, err
	}
	action, err := validateAction(req.Action)
	if err != nil {
		return model.Subscription{}, false, err
	}
	mode := req.FireMode
	switch mode {
	case "":
		mode = model.FirePerBar
	case model.FirePerBar, model.FireOneShot:
	default:
		return model.Subscription{}, false, model.Validationf("unknown fire_mode %q", mode)
	}

	now := s.now()
	sub := model.Subscription{
		ID:        uuid.NewString(),
		Consumer:  req.Consumer,
		Target:    req.Target,
		Action:    action,
		FireMode:  mode,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, existing, err := s.catalog.CreateSubscription(ctx, sub)
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("create subscription: %w", err)
	}
	if !existing {
		s.log.Info("subscribed",
			"subscription_id", stored.ID, "consumer_id", stored.Consumer.ID,
			"target", stored.Target.Kind, "target_id", stored.Target.ID, "fire_mode", stored.FireMode)
	}
	return stored, existing, nil
}

func (s *Service) checkTarget(ctx context.Context, consumer model.Consumer, t model.Target) error {
	if t.ID == "" {
		return model.Validationf("target id is required")
	}
	switch t.Kind {
	case model.TargetCondition:
		_, err := s.catalog.GetCondition(ctx, t.ID)
		return err
	case model.TargetPlaybook:
		pb, err := s.catalog.GetPlaybook(ctx, t.ID)
		if err != nil {
			return err
		}
		if pb.OwnerID != consumer.UserID {
			return fmt.Errorf("%w: playbook %s belongs to another user", model.ErrUnauthorized, t.ID)
		}
		return nil
	}
	return model.Validationf("unknown target kind %q", t.Kind)
}

func validateAction(a model.Action) (model.Action, error) {
	switch a.Type {
	case "":
		a.Type = model.ActionNotify
	case model.ActionNotify:
	case model.ActionBotTrigger:
		if strings.TrimSpace(a.BotAction) == "" {
			return a, model.Validationf("bot_trigger requires bot_action")
		}
	case model.ActionWebhook:
		u, err := url.Parse(a.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return a, model.Validationf("webhook requires an http(s) webhook_url")
		}
	default:
		return a, model.Validationf("unknown action type %q", a.Type)
	}
	return a, nil
}

// Unsubscribe cancels a subscription owned by userID.
func (s *Service) Unsubscribe(ctx context.Context, userID, id string) error {
	if userID == "" {
		return model.ErrUnauthorized
	}
	sub, err := s.catalog.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.Consumer.UserID != userID {
		return fmt.Errorf("%w: subscription %s belongs to another user", model.ErrUnauthorized, id)
	}
	for _, from := range []model.SubscriptionStatus{model.StatusActive, model.StatusInactive} {
		changed, err := s.catalog.UpdateSubscriptionStatus(ctx, id, from, model.StatusCancelled)
		if err != nil {
			return err
		}
		if changed {
			s.log.Info("unsubscribed", "subscription_id", id, "consumer_id", sub.Consumer.ID)
			return nil
		}
	}
	return nil
}

// ListForConsumer returns every subscription of userID's consumer.
func (s *Service) ListForConsumer(ctx context.Context, userID, consumerID string) ([]model.Subscription, error) {
	if userID == "" {
		return nil, model.ErrUnauthorized
	}
	return s.catalog.ListSubscriptions(ctx, model.SubscriptionFilter{UserID: userID, ConsumerID: consumerID})
}

// ListForUser returns every subscription owned by a user.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	if userID == "" {
		return nil, model.ErrUnauthorized
	}
	return s.catalog.ListSubscriptions(ctx, model.SubscriptionFilter{UserID: userID})
}

// StopConsumer synchronously deactivates every active subscription of a
// consumer owned by userID. Consumers of other users that share the id are
// untouched. Evaluators re-check the active flag right before dispatch, so no
// trigger reaches the consumer after this returns.
func (s *Service) StopConsumer(ctx context.Context, userID, consumerID string) (int, error) {
	if userID == "" {
		return 0, model.ErrUnauthorized
	}
	subs, err := s.ListForConsumer(ctx, userID, consumerID)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, model.NotFound("consumer", consumerID)
	}
	n, err := s.catalog.DeactivateConsumer(ctx, userID, consumerID)
	if err != nil {
		return 0, err
	}
	s.log.Info("consumer stopped", "user_id", userID, "consumer_id", consumerID, "deactivated", n)
	return n, nil
}

// IsActive reads the current active flag of a subscription.
func (s *Service) IsActive(ctx context.Context, id string) (bool, error) {
	sub, err := s.catalog.GetSubscription(ctx, id)
	if err != nil {
		return false, err
	}
	return sub.Active(), nil
}

// Deactivate moves an active subscription to inactive. changed is false if it
// was not active, so concurrent one-shot fires disable it exactly once.
func (s *Service) Deactivate(ctx context.Context, id string) (bool, error) {
	return s.catalog.UpdateSubscriptionStatus(ctx, id, model.StatusActive, model.StatusInactive)
}
