package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"attest/pkg/requestcontext"
)

// Sink is where emitted events land; in practice the outbox store.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher emits account change events. The default mode is synchronous and
// fail-closed: Emit blocks until the sink write succeeds, and inside a
// transaction a failed write fails the whole mutation. WithAsyncBuffer
// switches to best-effort background delivery for callers outside the
// transactional path.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	inbox chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithAsyncBuffer enables background delivery through a bounded channel.
// When the buffer is full the event is dropped and logged; async mode is for
// advisory sinks only, never the transactional outbox.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event, stamping ID, timestamp, and request correlation from
// context when the caller left them unset.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if p.inbox == nil {
		return p.sink.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "event buffer full, dropping event",
			"event_type", event.Type,
			"user_id", event.UserID,
		)
	}
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.sink.Append(ctx, event); err != nil {
			p.logger.Error("failed to persist event",
				"event_type", event.Type,
				"error", err,
			)
		}
		cancel()
	}
}

// Close stops async delivery after draining buffered events. Safe to call in
// sync mode and safe to call twice.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}
