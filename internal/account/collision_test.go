package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attest/internal/account/models"
	"attest/internal/account/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
)

func seedAccount(t *testing.T, accounts *store.InMemory, email, phone, username string) *models.Account {
	t.Helper()
	now := time.Now()
	account := &models.Account{
		ID:           id.NewUserID(),
		Username:     username,
		PrimaryEmail: email,
		PrimaryPhone: phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, accounts.Create(context.Background(), account))
	return account
}

func TestCollisionCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("free identifier passes", func(t *testing.T) {
		accounts := store.NewInMemory()
		checker, err := NewCollisionChecker(accounts)
		require.NoError(t, err)

		err = checker.Check(ctx, id.Identifier{Kind: id.KindEmail, Value: "free@example.com"}, id.NewUserID())
		assert.NoError(t, err)
	})

	t.Run("identifier held by another account conflicts", func(t *testing.T) {
		accounts := store.NewInMemory()
		holder := seedAccount(t, accounts, "taken@example.com", "", "")
		checker, err := NewCollisionChecker(accounts)
		require.NoError(t, err)

		err = checker.Check(ctx, id.Identifier{Kind: id.KindEmail, Value: "taken@example.com"}, id.NewUserID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
		_ = holder
	})

	t.Run("identifier held by the requester passes", func(t *testing.T) {
		accounts := store.NewInMemory()
		holder := seedAccount(t, accounts, "mine@example.com", "", "")
		checker, err := NewCollisionChecker(accounts)
		require.NoError(t, err)

		err = checker.Check(ctx, id.Identifier{Kind: id.KindEmail, Value: "mine@example.com"}, holder.ID)
		assert.NoError(t, err)
	})

	t.Run("email collision ignores domain case", func(t *testing.T) {
		accounts := store.NewInMemory()
		seedAccount(t, accounts, "alice@Example.com", "", "")
		checker, err := NewCollisionChecker(accounts)
		require.NoError(t, err)

		err = checker.Check(ctx, id.Identifier{Kind: id.KindEmail, Value: "alice@example.COM"}, id.NewUserID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("social identity collision matches provider pair", func(t *testing.T) {
		accounts := store.NewInMemory()
		holder := seedAccount(t, accounts, "", "", "")
		_, err := accounts.LinkIdentity(ctx, holder.ID, "github", models.SocialIdentity{UserID: "gh-123"})
		require.NoError(t, err)

		checker, err := NewCollisionChecker(accounts)
		require.NoError(t, err)

		err = checker.Check(ctx, id.Identifier{Kind: id.KindSocial, Value: "github", ExternalID: "gh-123"}, id.NewUserID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

		err = checker.Check(ctx, id.Identifier{Kind: id.KindSocial, Value: "github", ExternalID: "gh-456"}, id.NewUserID())
		assert.NoError(t, err)
	})

	t.Run("username collision is exact", func(t *testing.T) {
		accounts := store.NewInMemory()
		seedAccount(t, accounts, "", "", "alice")
		checker, err := NewCollisionChecker(accounts)
		require.NoError(t, err)

		require.Error(t, checker.Check(ctx, id.Identifier{Kind: id.KindUsername, Value: "alice"}, id.NewUserID()))
		assert.NoError(t, checker.Check(ctx, id.Identifier{Kind: id.KindUsername, Value: "Alice"}, id.NewUserID()))
	})
}
