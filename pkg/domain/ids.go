// Package domain holds typed identifiers shared across features. Distinct ID
// types keep a user ID from ever being passed where a record ID is expected;
// the compiler enforces what code review would otherwise have to catch.
package domain

import (
	"github.com/google/uuid"

	dErrors "attest/pkg/domain-errors"
)

type (
	// UserID identifies an account.
	UserID uuid.UUID
	// RecordID identifies a verification record.
	RecordID uuid.UUID
)

// IsNil reports whether the ID is the zero UUID.
func (id UserID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) String() string   { return uuid.UUID(id).String() }
func (id RecordID) String() string { return uuid.UUID(id).String() }

// NewUserID generates a fresh account ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewRecordID generates a fresh verification record ID.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// ParseUserID validates and parses an account ID from its string form.
// Rejects empty strings, malformed UUIDs, and the nil UUID; IDs cross trust
// boundaries and must never be accepted unvalidated.
func ParseUserID(s string) (UserID, error) {
	u, err := parse(s, "user id")
	return UserID(u), err
}

// ParseRecordID validates and parses a verification record ID.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parse(s, "record id")
	return RecordID(u), err
}

func parse(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", label)
	}
	return u, nil
}
