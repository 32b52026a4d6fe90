package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attest/internal/account/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
)

type AccountStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *AccountStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestAccountStoreSuite(t *testing.T) {
	suite.Run(t, new(AccountStoreSuite))
}

func (s *AccountStoreSuite) newAccount(email string) *models.Account {
	now := time.Now()
	return &models.Account{
		ID:           id.NewUserID(),
		PrimaryEmail: email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *AccountStoreSuite) TestCreateAndFind() {
	s.Run("round-trips an account", func() {
		account := s.newAccount("a@example.com")
		s.Require().NoError(s.store.Create(s.ctx, account))

		found, err := s.store.FindByID(s.ctx, account.ID)
		s.Require().NoError(err)
		s.Equal("a@example.com", found.PrimaryEmail)
	})

	s.Run("rejects duplicate email at create", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newAccount("dup@example.com")))
		err := s.store.Create(s.ctx, s.newAccount("dup@example.com"))
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("finds by identifier", func() {
		account := s.newAccount("lookup@example.com")
		s.Require().NoError(s.store.Create(s.ctx, account))

		found, err := s.store.FindByIdentifier(s.ctx, id.Identifier{Kind: id.KindEmail, Value: "lookup@example.com"})
		s.Require().NoError(err)
		s.Equal(account.ID, found.ID)

		_, err = s.store.FindByIdentifier(s.ctx, id.Identifier{Kind: id.KindEmail, Value: "absent@example.com"})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *AccountStoreSuite) TestSetPrimaryEmail() {
	s.Run("moves the email when free", func() {
		account := s.newAccount("old@example.com")
		s.Require().NoError(s.store.Create(s.ctx, account))

		updated, err := s.store.SetPrimaryEmail(s.ctx, account.ID, "new@example.com")
		s.Require().NoError(err)
		s.Equal("new@example.com", updated.PrimaryEmail)
	})

	s.Run("conflicts when another account holds it", func() {
		a := s.newAccount("a2@example.com")
		b := s.newAccount("b2@example.com")
		s.Require().NoError(s.store.Create(s.ctx, a))
		s.Require().NoError(s.store.Create(s.ctx, b))

		_, err := s.store.SetPrimaryEmail(s.ctx, b.ID, "a2@example.com")
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown account reports ErrNotFound", func() {
		_, err := s.store.SetPrimaryEmail(s.ctx, id.NewUserID(), "x@example.com")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentEmailClaim races two accounts claiming the same address:
// exactly one commit may win.
func (s *AccountStoreSuite) TestConcurrentEmailClaim() {
	const claimed = "contended@example.com"
	accounts := make([]*models.Account, 20)
	for i := range accounts {
		accounts[i] = s.newAccount("")
		s.Require().NoError(s.store.Create(s.ctx, accounts[i]))
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, account := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.SetPrimaryEmail(s.ctx, account.ID, claimed); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
}

func (s *AccountStoreSuite) TestIdentities() {
	s.Run("links and unlinks", func() {
		account := s.newAccount("social@example.com")
		s.Require().NoError(s.store.Create(s.ctx, account))

		updated, err := s.store.LinkIdentity(s.ctx, account.ID, "github", models.SocialIdentity{UserID: "gh-1"})
		s.Require().NoError(err)
		s.Contains(updated.Identities, "github")

		updated, err = s.store.UnlinkIdentity(s.ctx, account.ID, "github")
		s.Require().NoError(err)
		s.NotContains(updated.Identities, "github")
	})

	s.Run("rejects a second link for the same target", func() {
		account := s.newAccount("social2@example.com")
		s.Require().NoError(s.store.Create(s.ctx, account))
		_, err := s.store.LinkIdentity(s.ctx, account.ID, "github", models.SocialIdentity{UserID: "gh-2"})
		s.Require().NoError(err)

		_, err = s.store.LinkIdentity(s.ctx, account.ID, "github", models.SocialIdentity{UserID: "gh-3"})
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("rejects an identity held elsewhere", func() {
		a := s.newAccount("ida@example.com")
		b := s.newAccount("idb@example.com")
		s.Require().NoError(s.store.Create(s.ctx, a))
		s.Require().NoError(s.store.Create(s.ctx, b))
		_, err := s.store.LinkIdentity(s.ctx, a.ID, "github", models.SocialIdentity{UserID: "gh-4"})
		s.Require().NoError(err)

		_, err = s.store.LinkIdentity(s.ctx, b.ID, "github", models.SocialIdentity{UserID: "gh-4"})
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unlinking an absent target reports invalid state", func() {
		account := s.newAccount("social3@example.com")
		s.Require().NoError(s.store.Create(s.ctx, account))

		_, err := s.store.UnlinkIdentity(s.ctx, account.ID, "github")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *AccountStoreSuite) TestUpdateProfile() {
	account := s.newAccount("profile@example.com")
	s.Require().NoError(s.store.Create(s.ctx, account))

	name := "Alice"
	username := "alice"
	updated, err := s.store.UpdateProfile(s.ctx, account.ID, models.ProfileUpdate{Name: &name, Username: &username})
	s.Require().NoError(err)
	s.Equal("Alice", updated.Name)
	s.Equal("alice", updated.Username)

	other := s.newAccount("other@example.com")
	s.Require().NoError(s.store.Create(s.ctx, other))
	_, err = s.store.UpdateProfile(s.ctx, other.ID, models.ProfileUpdate{Username: &username})
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}
