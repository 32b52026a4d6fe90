package domain

import "strings"

// IdentifierKind names the class of unique account identifier.
type IdentifierKind string

const (
	KindEmail    IdentifierKind = "email"
	KindPhone    IdentifierKind = "phone"
	KindUsername IdentifierKind = "username"
	KindSocial   IdentifierKind = "social"
)

// Identifier is a {kind, value} pair naming something exactly one account may
// hold: an email address, phone number, username, or a linked external
// identity. For social identifiers Value is the provider target and
// ExternalID the provider-side subject; both participate in uniqueness.
type Identifier struct {
	Kind       IdentifierKind `json:"kind"`
	Value      string         `json:"value"`
	ExternalID string         `json:"external_id,omitempty"`
}

// Matches reports whether the identifier corresponds to a candidate value.
// Email domains compare case-insensitively, local parts exactly; every other
// kind compares exactly.
func (i Identifier) Matches(candidate string) bool {
	if i.Kind != KindEmail {
		return i.Value == candidate
	}
	return EqualEmail(i.Value, candidate)
}

// EqualEmail compares two addresses with an exact local part and a
// case-insensitive domain.
func EqualEmail(a, b string) bool {
	aLocal, aDomain, aOK := strings.Cut(a, "@")
	bLocal, bDomain, bOK := strings.Cut(b, "@")
	if !aOK || !bOK {
		return a == b
	}
	return aLocal == bLocal && strings.EqualFold(aDomain, bDomain)
}
