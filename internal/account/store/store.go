// Package store persists accounts. FindByIdentifier backs the collision
// checker; the Update/Set methods are the only account writes the profile
// service performs, and every one of them joins an in-flight transaction via
// pkg/platform/tx when present.
package store

import (
	"context"

	"attest/internal/account/models"
	id "attest/pkg/domain"
)

// AccountStore is the persistence boundary for accounts.
//
// Writes that would violate identifier uniqueness return
// sentinel.ErrConflict; lookups that match nothing return
// sentinel.ErrNotFound.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, userID id.UserID) (*models.Account, error)
	// FindByIdentifier returns the account currently holding the identifier.
	FindByIdentifier(ctx context.Context, ident id.Identifier) (*models.Account, error)

	UpdateProfile(ctx context.Context, userID id.UserID, update models.ProfileUpdate) (*models.Account, error)
	SetPassword(ctx context.Context, userID id.UserID, hash string, history []string) (*models.Account, error)
	SetPrimaryEmail(ctx context.Context, userID id.UserID, email string) (*models.Account, error)
	SetPrimaryPhone(ctx context.Context, userID id.UserID, phone string) (*models.Account, error)
	LinkIdentity(ctx context.Context, userID id.UserID, target string, identity models.SocialIdentity) (*models.Account, error)
	UnlinkIdentity(ctx context.Context, userID id.UserID, target string) (*models.Account, error)
}
