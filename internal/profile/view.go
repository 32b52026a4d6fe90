package profile

import (
	accountmodels "attest/internal/account/models"
	id "attest/pkg/domain"
)

// View is the caller-facing projection of an account. Fields outside the
// caller's granted scopes are omitted entirely, not blanked, so a client can
// tell "not granted" from "not set".
type View struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Username string `json:"username"`

	PrimaryEmail *string                 `json:"primaryEmail,omitempty"`
	PrimaryPhone *string                 `json:"primaryPhone,omitempty"`
	Identities   map[string]IdentityView `json:"identities,omitempty"`
	HasPassword  bool                    `json:"hasPassword"`
}

// IdentityView is the linked-identity projection. Provider details are
// returned as stored; the provider-side subject identifies the link.
type IdentityView struct {
	UserID  string            `json:"userId"`
	Details map[string]string `json:"details,omitempty"`
}

// NewView projects an account through the caller's scope set.
func NewView(acct *accountmodels.Account, scopes id.ScopeSet) *View {
	view := &View{
		ID:          acct.ID.String(),
		Name:        acct.Name,
		Avatar:      acct.Avatar,
		Username:    acct.Username,
		HasPassword: acct.PasswordHash != "",
	}

	if scopes.Has(id.ScopeEmail) {
		email := acct.PrimaryEmail
		view.PrimaryEmail = &email
	}
	if scopes.Has(id.ScopePhone) {
		phone := acct.PrimaryPhone
		view.PrimaryPhone = &phone
	}
	if scopes.Has(id.ScopeIdentities) && len(acct.Identities) > 0 {
		view.Identities = make(map[string]IdentityView, len(acct.Identities))
		for target, identity := range acct.Identities {
			view.Identities[target] = IdentityView{UserID: identity.UserID, Details: identity.Details}
		}
	}
	return view
}
