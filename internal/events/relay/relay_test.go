package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"attest/internal/events"
	"attest/internal/events/store"
	id "attest/pkg/domain"
)

type fakeProducer struct {
	mu       sync.Mutex
	records  []*kgo.Record
	failNext bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, records ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext {
		f.failNext = false
		return kgo.ProduceResults{{Err: errors.New("broker unavailable")}}
	}
	f.records = append(f.records, records...)
	results := make(kgo.ProduceResults, len(records))
	for i, record := range records {
		results[i] = kgo.ProduceResult{Record: record}
	}
	return results
}

func (f *fakeProducer) produced() []*kgo.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kgo.Record(nil), f.records...)
}

func seedEvent(t *testing.T, outbox *store.InMemory, userID id.UserID, typ events.EventType) events.Event {
	t.Helper()
	event := events.Event{
		ID:        uuid.New(),
		Type:      typ,
		Timestamp: time.Now(),
		UserID:    userID,
		Fields:    map[string]string{"kind": "email"},
	}
	require.NoError(t, outbox.Append(context.Background(), event))
	return event
}

func TestRelay_DrainPublishesAndMarks(t *testing.T) {
	outbox := store.NewInMemory()
	producer := &fakeProducer{}
	userID := id.NewUserID()
	event := seedEvent(t, outbox, userID, events.EventPrimaryEmailChanged)

	r, err := New(outbox, producer, "account-events")
	require.NoError(t, err)
	require.NoError(t, r.Drain(context.Background()))

	records := producer.produced()
	require.Len(t, records, 1)
	assert.Equal(t, "account-events", records[0].Topic)
	assert.Equal(t, userID.String(), string(records[0].Key))

	var p payload
	require.NoError(t, json.Unmarshal(records[0].Value, &p))
	assert.Equal(t, event.ID.String(), p.ID)
	assert.Equal(t, string(events.EventPrimaryEmailChanged), p.Type)
	assert.Equal(t, "email", p.Fields["kind"])

	pending, err := outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "published events should leave the pending set")
}

func TestRelay_ProduceFailureLeavesEventsPending(t *testing.T) {
	outbox := store.NewInMemory()
	producer := &fakeProducer{failNext: true}
	seedEvent(t, outbox, id.NewUserID(), events.EventPasswordChanged)

	r, err := New(outbox, producer, "account-events")
	require.NoError(t, err)
	require.Error(t, r.Drain(context.Background()))

	pending, err := outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "failed publish must not mark the event")

	// Next drain retries the same event.
	require.NoError(t, r.Drain(context.Background()))
	pending, err = outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelay_DrainRespectsBatchSize(t *testing.T) {
	outbox := store.NewInMemory()
	producer := &fakeProducer{}
	for range 5 {
		seedEvent(t, outbox, id.NewUserID(), events.EventProfileUpdated)
	}

	r, err := New(outbox, producer, "account-events", WithBatchSize(2))
	require.NoError(t, err)
	require.NoError(t, r.Drain(context.Background()))
	assert.Len(t, producer.produced(), 2)

	pending, err := outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestRelay_EmptyOutboxIsNoop(t *testing.T) {
	outbox := store.NewInMemory()
	producer := &fakeProducer{}

	r, err := New(outbox, producer, "account-events")
	require.NoError(t, err)
	require.NoError(t, r.Drain(context.Background()))
	assert.Empty(t, producer.produced())
}
