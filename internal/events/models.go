// Package events captures account change events. Domain code emits events
// through the Publisher; persistence uses the transactional outbox pattern so
// an event is recorded if and only if the mutation that produced it commits.
package events

import (
	"time"

	"github.com/google/uuid"

	id "attest/pkg/domain"
)

// EventType names the account mutation that produced the event.
type EventType string

const (
	EventProfileUpdated      EventType = "profile_updated"
	EventPasswordChanged     EventType = "password_changed"
	EventPrimaryEmailChanged EventType = "primary_email_changed"
	EventPrimaryPhoneChanged EventType = "primary_phone_changed"
	EventIdentityLinked      EventType = "identity_linked"
	EventIdentityUnlinked    EventType = "identity_unlinked"
)

// Event is emitted from domain logic after a sensitive mutation is
// authorized. Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Type      EventType
	Timestamp time.Time
	UserID    id.UserID
	// RecordID is the verification record consumed by the mutation, when one
	// was required.
	RecordID id.RecordID
	// RequestID correlates the event with the HTTP request that caused it.
	RequestID string
	// Fields carries event-specific details: which profile fields changed,
	// the new identifier kind, the unlinked provider target. Never raw
	// secrets or full identifier values.
	Fields map[string]string
}
