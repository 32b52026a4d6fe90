// Package relay drains the event outbox to Kafka. The relay is the only
// component that talks to the broker on the write path; domain code only ever
// appends to the outbox table inside its own transaction.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"attest/internal/events"
	"attest/internal/events/store"
)

// Producer is the broker write surface the relay needs. *kgo.Client
// satisfies it; tests substitute a fake.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the outbox and publishes pending events. At-least-once: a crash
// between produce and MarkPublished re-delivers, so consumers must dedupe on
// event ID.
type Relay struct {
	outbox   store.Store
	producer Producer
	topic    string
	logger   *slog.Logger

	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithInterval(interval time.Duration) Option {
	return func(r *Relay) {
		r.interval = interval
	}
}

func WithBatchSize(size int) Option {
	return func(r *Relay) {
		r.batchSize = size
	}
}

func New(outbox store.Store, producer Producer, topic string, opts ...Option) (*Relay, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		topic:     topic,
		logger:    slog.Default(),
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// Drain publishes one batch of pending events. Exposed so tests and shutdown
// paths can flush without the ticker.
func (r *Relay) Drain(ctx context.Context) error {
	pending, err := r.outbox.ListPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("list pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(pending))
	for i, event := range pending {
		payload, err := json.Marshal(wirePayload(event))
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.ID, err)
		}
		// Key by user so a consumer sees one user's events in order.
		records[i] = &kgo.Record{
			Topic: r.topic,
			Key:   []byte(event.UserID.String()),
			Value: payload,
		}
	}

	results := r.producer.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce events: %w", err)
	}

	published := make([]uuid.UUID, len(pending))
	for i, event := range pending {
		published[i] = event.ID
	}
	if err := r.outbox.MarkPublished(ctx, published); err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}

	r.logger.DebugContext(ctx, "outbox batch published", "count", len(published), "topic", r.topic)
	return nil
}

// payload is the JSON shape on the wire. Field names are part of the consumer
// contract.
type payload struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	UserID    string            `json:"user_id"`
	RecordID  string            `json:"record_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func wirePayload(event events.Event) payload {
	p := payload{
		ID:        event.ID.String(),
		Type:      string(event.Type),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		UserID:    event.UserID.String(),
		RequestID: event.RequestID,
		Fields:    event.Fields,
	}
	if !event.RecordID.IsNil() {
		p.RecordID = event.RecordID.String()
	}
	return p
}

// EnsureTopic creates the topic if the broker does not have it yet. Safe to
// call on every startup.
func EnsureTopic(ctx context.Context, admin *kadm.Client, topic string, partitions int32) error {
	responses, err := admin.CreateTopics(ctx, partitions, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, response := range responses {
		if response.Err != nil && !errors.Is(response.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", response.Topic, response.Err)
		}
	}
	return nil
}
