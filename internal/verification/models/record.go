// Package models defines the verification record: a short-lived proof that a
// user completed an identity challenge (code, password re-entry, social
// confirmation). Records gate mutations of security-sensitive account
// attributes and may be consumed at most once.
package models

import (
	"time"

	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// Type is the challenge class a record proves. It is fixed at creation; a
// record must never be usable as a different type than it was issued for.
type Type string

const (
	TypePassword  Type = "password"
	TypeEmailCode Type = "email_code"
	TypePhoneCode Type = "phone_code"
	TypeSocial    Type = "social"
)

// IsValid reports whether t is one of the known challenge types.
func (t Type) IsValid() bool {
	switch t {
	case TypePassword, TypeEmailCode, TypePhoneCode, TypeSocial:
		return true
	}
	return false
}

// TTL returns the lifetime assigned at creation. Codes are short-lived; a
// password re-entry proof lasts longer because it gates a whole settings
// session, not a single code exchange.
func (t Type) TTL() time.Duration {
	switch t {
	case TypeEmailCode, TypePhoneCode:
		return 10 * time.Minute
	case TypeSocial:
		return 15 * time.Minute
	case TypePassword:
		return time.Hour
	default:
		return 10 * time.Minute
	}
}

// Status is the record lifecycle state. Transitions are one-directional:
// Pending -> {Verified, Expired}; Verified -> Consumed. Nothing leaves
// Consumed or Expired.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
)

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusVerified || to == StatusExpired
	case StatusVerified:
		return to == StatusConsumed
	default:
		return false
	}
}

// Identifier is the channel/value pair the challenge was issued against.
// Aliased from pkg/domain so verification records and account identifiers
// share one vocabulary.
type (
	Identifier     = id.Identifier
	IdentifierKind = id.IdentifierKind
)

const (
	KindEmail    = id.KindEmail
	KindPhone    = id.KindPhone
	KindUsername = id.KindUsername
	KindSocial   = id.KindSocial
)

// TypeForKind maps an identifier kind to the challenge type that proves
// control of it. The switch is exhaustive over kinds; an unknown kind yields
// an invalid type, which resolution rejects.
func TypeForKind(kind IdentifierKind) Type {
	switch kind {
	case KindEmail:
		return TypeEmailCode
	case KindPhone:
		return TypePhoneCode
	case KindSocial:
		return TypeSocial
	default:
		return Type("")
	}
}

// Record is a stored verification record. UserID, Type, Identifier, and
// ExpiresAt are immutable after creation; only Status and AttemptCount move.
type Record struct {
	ID           id.RecordID
	UserID       id.UserID
	Type         Type
	Identifier   *Identifier
	Status       Status
	AttemptCount int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// MaxCodeAttempts bounds retries for code-based challenges.
const MaxCodeAttempts = 5

// New builds a record in Pending with expiry fixed from the type's TTL.
func New(userID id.UserID, typ Type, identifier *Identifier, now time.Time) *Record {
	return &Record{
		ID:         id.NewRecordID(),
		UserID:     userID,
		Type:       typ,
		Identifier: identifier,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(typ.TTL()),
	}
}

// ExpiredAt reports whether the record is past its expiry at the given time.
// Expiry is evaluated lazily on every read; the stored status is not trusted
// to reflect it.
func (r *Record) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Validate checks creation invariants before a record enters a store.
func (r *Record) Validate() error {
	if r.ID.IsNil() {
		return sentinel.ErrInvalidState
	}
	if r.UserID.IsNil() {
		return sentinel.ErrInvalidState
	}
	if !r.Type.IsValid() {
		return sentinel.ErrInvalidState
	}
	if r.ExpiresAt.Before(r.CreatedAt) {
		return sentinel.ErrInvalidState
	}
	return nil
}

// Clone returns a deep copy so in-memory stores never hand out aliased state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Identifier != nil {
		ident := *r.Identifier
		cp.Identifier = &ident
	}
	return &cp
}
