// Package store persists account change events as a transactional outbox.
// Append joins an in-flight transaction when one is carried in the context;
// the relay worker later drains pending rows to the broker and marks them
// published.
package store

import (
	"context"

	"github.com/google/uuid"

	"attest/internal/events"
	id "attest/pkg/domain"
)

// Store is the persistence boundary for the event outbox.
type Store interface {
	Append(ctx context.Context, event events.Event) error
	// ListPending returns up to limit unpublished events, oldest first.
	ListPending(ctx context.Context, limit int) ([]events.Event, error)
	MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error
	// ListByUser returns all events for a user, oldest first. Backs tests and
	// support tooling.
	ListByUser(ctx context.Context, userID id.UserID) ([]events.Event, error)
}
