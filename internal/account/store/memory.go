package store

import (
	"context"
	"sync"

	"attest/internal/account/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

// InMemory is a map-backed AccountStore for unit tests and local development.
// Uniqueness checks run under the write lock, so it gives the same
// lost-racer-fails behavior the Postgres unique indexes provide.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[id.UserID]*models.Account
}

func NewInMemory() *InMemory {
	return &InMemory{accounts: make(map[id.UserID]*models.Account)}
}

func (s *InMemory) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, ident := range accountIdentifiers(account) {
		if s.holderLocked(ident, account.ID) != nil {
			return sentinel.ErrConflict
		}
	}
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return account.Clone(), nil
}

func (s *InMemory) FindByIdentifier(_ context.Context, ident id.Identifier) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if holder := s.holderLocked(ident, id.UserID{}); holder != nil {
		return holder.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// holderLocked returns the account holding ident, skipping exclude. Callers
// must hold at least the read lock.
func (s *InMemory) holderLocked(ident id.Identifier, exclude id.UserID) *models.Account {
	for _, account := range s.accounts {
		if account.ID == exclude {
			continue
		}
		if account.HoldsIdentifier(ident) {
			return account
		}
	}
	return nil
}

func (s *InMemory) UpdateProfile(_ context.Context, userID id.UserID, update models.ProfileUpdate) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if update.Username != nil && *update.Username != "" {
		ident := id.Identifier{Kind: id.KindUsername, Value: *update.Username}
		if s.holderLocked(ident, userID) != nil {
			return nil, sentinel.ErrConflict
		}
	}
	if update.Name != nil {
		account.Name = *update.Name
	}
	if update.Avatar != nil {
		account.Avatar = *update.Avatar
	}
	if update.Username != nil {
		account.Username = *update.Username
	}
	return account.Clone(), nil
}

func (s *InMemory) SetPassword(_ context.Context, userID id.UserID, hash string, history []string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	account.PasswordHash = hash
	account.PasswordHistory = append([]string(nil), history...)
	return account.Clone(), nil
}

func (s *InMemory) SetPrimaryEmail(_ context.Context, userID id.UserID, email string) (*models.Account, error) {
	return s.setIdentifier(userID, id.Identifier{Kind: id.KindEmail, Value: email}, func(a *models.Account) {
		a.PrimaryEmail = email
	})
}

func (s *InMemory) SetPrimaryPhone(_ context.Context, userID id.UserID, phone string) (*models.Account, error) {
	return s.setIdentifier(userID, id.Identifier{Kind: id.KindPhone, Value: phone}, func(a *models.Account) {
		a.PrimaryPhone = phone
	})
}

func (s *InMemory) setIdentifier(userID id.UserID, ident id.Identifier, apply func(*models.Account)) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if ident.Value != "" && s.holderLocked(ident, userID) != nil {
		return nil, sentinel.ErrConflict
	}
	apply(account)
	return account.Clone(), nil
}

func (s *InMemory) LinkIdentity(_ context.Context, userID id.UserID, target string, identity models.SocialIdentity) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	ident := id.Identifier{Kind: id.KindSocial, Value: target, ExternalID: identity.UserID}
	if s.holderLocked(ident, userID) != nil {
		return nil, sentinel.ErrConflict
	}
	if _, linked := account.Identities[target]; linked {
		return nil, sentinel.ErrConflict
	}
	if account.Identities == nil {
		account.Identities = make(map[string]models.SocialIdentity)
	}
	account.Identities[target] = identity
	return account.Clone(), nil
}

func (s *InMemory) UnlinkIdentity(_ context.Context, userID id.UserID, target string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if _, linked := account.Identities[target]; !linked {
		return nil, sentinel.ErrInvalidState
	}
	delete(account.Identities, target)
	return account.Clone(), nil
}

func accountIdentifiers(account *models.Account) []id.Identifier {
	var idents []id.Identifier
	if account.PrimaryEmail != "" {
		idents = append(idents, id.Identifier{Kind: id.KindEmail, Value: account.PrimaryEmail})
	}
	if account.PrimaryPhone != "" {
		idents = append(idents, id.Identifier{Kind: id.KindPhone, Value: account.PrimaryPhone})
	}
	if account.Username != "" {
		idents = append(idents, id.Identifier{Kind: id.KindUsername, Value: account.Username})
	}
	for target, identity := range account.Identities {
		idents = append(idents, id.Identifier{Kind: id.KindSocial, Value: target, ExternalID: identity.UserID})
	}
	return idents
}
