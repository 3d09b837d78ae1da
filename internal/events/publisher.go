// Package events announces account lifecycle changes to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectRegistered    = "account.registered"
	SubjectCreated       = "account.created"
	SubjectUpdated       = "account.updated"
	SubjectDeleted       = "account.deleted"
	SubjectPasswordReset = "account.password_reset"
	SubjectLocked        = "account.locked"
)

// AccountEvent is the JSON payload published on every subject.
type AccountEvent struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Role       string    `json:"role,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

type Config struct {
	URL  string
	Name string
}

func ConfigFromEnv() Config {
	return Config{URL: os.Getenv("NATS_URL"), Name: "service-account"}
}

// NATSPublisher publishes JSON-encoded payloads with core NATS (at-most-once).
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}
