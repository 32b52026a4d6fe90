// Package models defines the account entity as seen by the sensitive-
// operation gate. The gate never mutates accounts directly; the profile
// service applies authorized changes through the account store.
package models

import (
	"time"

	id "attest/pkg/domain"
)

// PasswordHistorySize bounds how many superseded password hashes are kept for
// reuse rejection.
const PasswordHistorySize = 10

// SocialIdentity is a linked external identity: the provider-side subject and
// whatever profile details the provider returned at link time.
type SocialIdentity struct {
	UserID  string            `json:"user_id"`
	Details map[string]string `json:"details,omitempty"`
}

// Account is the stored account record. PrimaryEmail, PrimaryPhone, Username,
// and each (provider target, external id) pair are unique across accounts;
// the storage layer enforces that with unique indexes.
type Account struct {
	ID              id.UserID
	Username        string
	PrimaryEmail    string
	PrimaryPhone    string
	Name            string
	Avatar          string
	PasswordHash    string
	PasswordHistory []string
	Identities      map[string]SocialIdentity
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PushPasswordHistory records the current hash as superseded, dropping the
// oldest entry once the bound is reached.
func (a *Account) PushPasswordHistory() {
	if a.PasswordHash == "" {
		return
	}
	a.PasswordHistory = append(a.PasswordHistory, a.PasswordHash)
	if len(a.PasswordHistory) > PasswordHistorySize {
		a.PasswordHistory = a.PasswordHistory[len(a.PasswordHistory)-PasswordHistorySize:]
	}
}

// HoldsIdentifier reports whether the account itself holds the identifier.
// Used to short-circuit collision checks against the requesting account.
func (a *Account) HoldsIdentifier(ident id.Identifier) bool {
	switch ident.Kind {
	case id.KindEmail:
		return a.PrimaryEmail != "" && id.EqualEmail(a.PrimaryEmail, ident.Value)
	case id.KindPhone:
		return a.PrimaryPhone != "" && a.PrimaryPhone == ident.Value
	case id.KindUsername:
		return a.Username != "" && a.Username == ident.Value
	case id.KindSocial:
		identity, ok := a.Identities[ident.Value]
		return ok && identity.UserID == ident.ExternalID
	}
	return false
}

// Clone returns a deep copy so in-memory stores never hand out aliased state.
func (a *Account) Clone() *Account {
	cp := *a
	cp.PasswordHistory = append([]string(nil), a.PasswordHistory...)
	if a.Identities != nil {
		cp.Identities = make(map[string]SocialIdentity, len(a.Identities))
		for target, identity := range a.Identities {
			details := make(map[string]string, len(identity.Details))
			for k, v := range identity.Details {
				details[k] = v
			}
			cp.Identities[target] = SocialIdentity{UserID: identity.UserID, Details: details}
		}
	}
	return &cp
}
