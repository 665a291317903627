// Package events publishes domain events (referral transitions, chat session
// lifecycle) to Kafka and relays them to connected users.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/websocket"
)

// Event is the envelope written to the event topic.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id,omitempty"`
	Subject    string          `json:"subject"`
	Audience   []string        `json:"audience,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event for subject carrying payload. Audience entries are
// WebSocket topics that should see the event.
func New(eventType, subject string, payload any, audience ...string) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		Audience:   audience,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
	Close() error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, evts ...Event) error {
	for _, e := range evts {
		p.logger.Info().
			Str("event_id", e.ID).
			Str("type", e.Type).
			Str("subject", e.Subject).
			Str("tenant_id", e.TenantID).
			Msg("domain event")
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// HubForwarder pushes events to the WebSocket topics in their audience.
// Topics outside the event's tenant are never delivered.
type HubForwarder struct {
	pub websocket.Publisher
}

func NewHubForwarder(pub websocket.Publisher) *HubForwarder {
	return &HubForwarder{pub: pub}
}

func (f *HubForwarder) Publish(ctx context.Context, evts ...Event) error {
	var errs []error
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, topic := range e.Audience {
			if !websocket.InTenant(e.TenantID, topic) {
				errs = append(errs, fmt.Errorf("event %s: topic %q outside tenant %q", e.Type, topic, e.TenantID))
				continue
			}
			err := f.pub.Publish(ctx, websocket.Message{
				Type:      "event",
				Topic:     topic,
				Timestamp: e.OccurredAt,
				Data:      data,
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f *HubForwarder) Close() error { return nil }

// Multi fans out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evts ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Emitter publishes events on behalf of a service. Publish failures are
// logged; the domain operation that produced the event has already
// committed.
type Emitter struct {
	pub    Publisher
	logger zerolog.Logger
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger}
}

// Emit builds and publishes one event, stamping the tenant.
func (em *Emitter) Emit(ctx context.Context, tenantID, eventType, subject string, payload any, audience ...string) {
	if em == nil || em.pub == nil {
		return
	}
	evt, err := New(eventType, subject, payload, audience...)
	if err != nil {
		em.logger.Error().Err(err).Str("type", eventType).Msg("build event")
		return
	}
	evt.TenantID = tenantID
	if err := em.pub.Publish(ctx, evt); err != nil {
		em.logger.Error().Err(err).
			Str("type", eventType).
			Str("subject", subject).
			Msg("publish event")
	}
}
