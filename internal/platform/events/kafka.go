package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a single topic keyed by subject, so all
// events for one referral or session land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		msg, err := encode(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return kafka.Message{
		Key:   []byte(e.Subject),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "tenant_id", Value: []byte(e.TenantID)},
		},
	}, nil
}

func decode(msg kafka.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return Event{}, fmt.Errorf("decode event at offset %d: %w", msg.Offset, err)
	}
	return e, nil
}

// Handler processes one consumed event.
type Handler func(ctx context.Context, e Event) error

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads events from the topic and hands them to a Handler. Each
// server instance uses its own group so every instance relays every event
// to the users connected to it.
type Consumer struct {
	reader MessageReader
	logger zerolog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, logger zerolog.Logger) *Consumer {
	return NewConsumerFromReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	}), logger)
}

func NewConsumerFromReader(r MessageReader, logger zerolog.Logger) *Consumer {
	return &Consumer{reader: r, logger: logger.With().Str("component", "events-consumer").Logger()}
}

// Run consumes until ctx is cancelled. Undecodable messages and handler
// failures are logged and committed so one bad event cannot stall the relay.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch event: %w", err)
		}

		evt, err := decode(msg)
		if err != nil {
			c.logger.Error().Err(err).Msg("skip malformed event")
		} else if err := handle(ctx, evt); err != nil {
			c.logger.Error().Err(err).Str("event_id", evt.ID).Str("type", evt.Type).Msg("handle event")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("commit event")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
