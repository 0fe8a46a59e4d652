// Package memory implements every storage port in process memory. It backs
// tests, cmd/replay and single-node development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Catalog stores conditions, playbooks and subscriptions.
type Catalog struct {
	mu            sync.RWMutex
	conditions    map[string]model.Condition
	playbooks     map[string]model.Playbook
	subscriptions map[string]model.Subscription
	order         []string // subscription IDs in creation order
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		conditions:    make(map[string]model.Condition),
		playbooks:     make(map[string]model.Playbook),
		subscriptions: make(map[string]model.Subscription),
	}
}

func (c *Catalog) PutCondition(_ context.Context, cond model.Condition) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conditions[cond.ID]; ok {
		return false, nil
	}
	c.conditions[cond.ID] = cond
	return true, nil
}

func (c *Catalog) GetCondition(_ context.Context, id string) (model.Condition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cond, ok := c.conditions[id]
	if !ok {
		return model.Condition{}, model.NotFound("condition", id)
	}
	return cond, nil
}

func (c *Catalog) GetConditions(_ context.Context, ids []string) (map[string]model.Condition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Condition, len(ids))
	for _, id := range ids {
		if cond, ok := c.conditions[id]; ok {
			out[id] = cond
		}
	}
	return out, nil
}

func (c *Catalog) CountConditions(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conditions), nil
}

func (c *Catalog) PutPlaybook(_ context.Context, p model.Playbook) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.Entries = append([]model.PlaybookEntry(nil), p.Entries...)
	c.playbooks[p.ID] = p
	return nil
}

func (c *Catalog) GetPlaybook(_ context.Context, id string) (model.Playbook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.playbooks[id]
	if !ok {
		return model.Playbook{}, model.NotFound("playbook", id)
	}
	return p, nil
}

func (c *Catalog) GetPlaybooks(_ context.Context, ids []string) (map[string]model.Playbook, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Playbook, len(ids))
	for _, id := range ids {
		if p, ok := c.playbooks[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *Catalog) CreateSubscription(_ context.Context, s model.Subscription) (model.Subscription, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		cur := c.subscriptions[id]
		if cur.Active() && cur.Consumer == s.Consumer && cur.Target == s.Target {
			return cur, true, nil
		}
	}
	c.subscriptions[s.ID] = s
	c.order = append(c.order, s.ID)
	return s, false, nil
}

func (c *Catalog) GetSubscription(_ context.Context, id string) (model.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subscriptions[id]
	if !ok {
		return model.Subscription{}, model.NotFound("subscription", id)
	}
	return s, nil
}

func (c *Catalog) ListSubscriptions(_ context.Context, f model.SubscriptionFilter) ([]model.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Subscription
	for _, id := range c.order {
		s := c.subscriptions[id]
		if f.Match(&s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Catalog) UpdateSubscriptionStatus(_ context.Context, id string, from, to model.SubscriptionStatus) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subscriptions[id]
	if !ok {
		return false, model.NotFound("subscription", id)
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	c.subscriptions[id] = s
	return true, nil
}

func (c *Catalog) DeactivateConsumer(_ context.Context, userID, consumerID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for id, s := range c.subscriptions {
		if s.Consumer.UserID == userID && s.Consumer.ID == consumerID && s.Active() {
			s.Status = model.StatusInactive
			s.UpdatedAt = now
			c.subscriptions[id] = s
			n++
		}
	}
	return n, nil
}

func (c *Catalog) Close() error { return nil }
