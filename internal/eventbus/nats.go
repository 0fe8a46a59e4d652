// Package eventbus fans trigger events out to external subsystems.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// NATSConfig configures the JetStream publisher.
type NATSConfig struct {
	URL           string
	Stream        string        // default "TRIGGERS"
	SubjectPrefix string        // default "triggers"
	MaxMsgs       int64         // default 100000
	MaxAge        time.Duration // default 7 days
}

func (c *NATSConfig) defaults() {
	if c.Stream == "" {
		c.Stream = "TRIGGERS"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "triggers"
	}
	if c.MaxMsgs <= 0 {
		c.MaxMsgs = 100000
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
}

// jsPublisher is the slice of jetstream.JetStream the publisher needs.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes each trigger to "<prefix>.<consumer_type>" with the
// idempotency key as the JetStream message ID, so the server drops
// redeliveries inside its duplicate window.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jsPublisher
	prefix string
}

// NewNATSPublisher connects, then creates or updates the trigger stream.
func NewNATSPublisher(ctx context.Context, cfg NATSConfig) (*NATSPublisher, error) {
	cfg.defaults()
	nc, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Subjects:    []string{cfg.SubjectPrefix + ".*"},
		Description: "condition and playbook trigger events",
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     cfg.MaxMsgs,
		MaxAge:      cfg.MaxAge,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	log.Printf("[nats] stream %s ready (%s.*)", cfg.Stream, cfg.SubjectPrefix)

	return &NATSPublisher{conn: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject a trigger is published on.
func (p *NATSPublisher) Subject(ev model.TriggerEvent) string {
	return p.prefix + "." + string(ev.ConsumerType)
}

func (p *NATSPublisher) PublishTrigger(ctx context.Context, ev model.TriggerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.Subject(ev), payload, jetstream.WithMsgID(ev.IdempotencyKey())); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.Subject(ev), err)
	}
	return nil
}

// Connected reports the connection state.
func (p *NATSPublisher) Connected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
			return err
		}
	}
	return nil
}
