package verification

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attest/internal/verification/models"
	"attest/internal/verification/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/sentinel"
	"attest/pkg/requestcontext"
)

func newResolver(t *testing.T) (*Resolver, *store.InMemory) {
	t.Helper()
	records := store.NewInMemory()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	resolver, err := NewResolver(records, WithLogger(logger))
	require.NoError(t, err)
	return resolver, records
}

func seedRecord(t *testing.T, records *store.InMemory, rec *models.Record) {
	t.Helper()
	require.NoError(t, records.Create(context.Background(), rec))
}

func TestResolverRequiresStore(t *testing.T) {
	_, err := NewResolver(nil)
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	t.Run("returns a verified record of the expected type", func(t *testing.T) {
		resolver, records := newResolver(t)
		rec := models.New(id.NewUserID(), models.TypeEmailCode,
			&models.Identifier{Kind: models.KindEmail, Value: "a@example.com"}, now)
		rec.Status = models.StatusVerified
		seedRecord(t, records, rec)

		found, err := resolver.Resolve(ctx, rec.ID, models.TypeEmailCode)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, found.ID)
		assert.Equal(t, models.StatusVerified, found.Status)
	})

	t.Run("missing record resolves to NotFound", func(t *testing.T) {
		resolver, _ := newResolver(t)

		_, err := resolver.Resolve(ctx, id.NewRecordID(), models.TypeEmailCode)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("type mismatch is indistinguishable from absence", func(t *testing.T) {
		resolver, records := newResolver(t)
		rec := models.New(id.NewUserID(), models.TypeEmailCode,
			&models.Identifier{Kind: models.KindEmail, Value: "a@example.com"}, now)
		seedRecord(t, records, rec)

		mismatchErr := func() error {
			_, err := resolver.Resolve(ctx, rec.ID, models.TypePhoneCode)
			return err
		}()
		missingErr := func() error {
			_, err := resolver.Resolve(ctx, id.NewRecordID(), models.TypePhoneCode)
			return err
		}()

		require.Error(t, mismatchErr)
		require.Error(t, missingErr)
		assert.Equal(t, missingErr.Error(), mismatchErr.Error())
		assert.True(t, dErrors.HasCode(mismatchErr, dErrors.CodeNotFound))
	})

	t.Run("expiry dominates stored status", func(t *testing.T) {
		resolver, records := newResolver(t)
		rec := models.New(id.NewUserID(), models.TypeEmailCode,
			&models.Identifier{Kind: models.KindEmail, Value: "a@example.com"}, now)
		rec.Status = models.StatusVerified
		seedRecord(t, records, rec)

		late := requestcontext.WithTime(context.Background(), rec.ExpiresAt.Add(time.Second))
		_, err := resolver.Resolve(late, rec.ID, models.TypeEmailCode)
		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel.ErrExpired)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects unknown expected type", func(t *testing.T) {
		resolver, _ := newResolver(t)

		_, err := resolver.Resolve(ctx, id.NewRecordID(), models.Type("carrier-pigeon"))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
