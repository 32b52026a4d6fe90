package profile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"attest/internal/account"
	accountmodels "attest/internal/account/models"
	accountstore "attest/internal/account/store"
	"attest/internal/events"
	eventstore "attest/internal/events/store"
	gatemetrics "attest/internal/gate/metrics"
	gate "attest/internal/gate/service"
	"attest/internal/password"
	"attest/internal/verification"
	"attest/internal/verification/models"
	recordstore "attest/internal/verification/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/tx"
	"attest/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	service  *Service
	accounts *accountstore.InMemory
	records  *recordstore.InMemory
	outbox   *eventstore.InMemory
	now      time.Time
	ctx      context.Context
	seq      int
}

func (s *ServiceSuite) SetupTest() {
	s.accounts = accountstore.NewInMemory()
	s.records = recordstore.NewInMemory()
	s.outbox = eventstore.NewInMemory()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	resolver, err := verification.NewResolver(s.records, verification.WithLogger(logger))
	s.Require().NoError(err)
	collisions, err := account.NewCollisionChecker(s.accounts, account.WithCollisionLogger(logger))
	s.Require().NoError(err)
	g, err := gate.New(resolver, collisions,
		gate.WithLogger(logger),
		gate.WithMetrics(gatemetrics.NewWithRegistry(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)

	service, err := New(
		s.accounts,
		s.records,
		collisions,
		g,
		password.NewValidator(password.DefaultPolicy()),
		events.NewPublisher(s.outbox, events.WithPublisherLogger(logger)),
		tx.PassthroughRunner{},
		WithLogger(logger),
	)
	s.Require().NoError(err)
	s.service = service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// seedAccount creates an account with unique default identifiers so subtests
// sharing one store never trip the uniqueness checks by accident.
func (s *ServiceSuite) seedAccount(mutate func(*accountmodels.Account)) *accountmodels.Account {
	s.seq++
	acct := &accountmodels.Account{
		ID:           id.NewUserID(),
		Username:     fmt.Sprintf("casey%d", s.seq),
		PrimaryEmail: fmt.Sprintf("casey%d@example.com", s.seq),
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
	if mutate != nil {
		mutate(acct)
	}
	s.Require().NoError(s.accounts.Create(s.ctx, acct))
	return acct
}

func (s *ServiceSuite) seedVerified(userID id.UserID, typ models.Type, ident *models.Identifier) *models.Record {
	rec := models.New(userID, typ, ident, s.now)
	rec.Status = models.StatusVerified
	s.Require().NoError(s.records.Create(s.ctx, rec))
	return rec
}

func (s *ServiceSuite) recordStatus(recordID id.RecordID) models.Status {
	rec, err := s.records.Get(s.ctx, recordID)
	s.Require().NoError(err)
	return rec.Status
}

func (s *ServiceSuite) caller(acct *accountmodels.Account, scopes ...string) gate.Caller {
	return gate.Caller{UserID: acct.ID, Scopes: id.NewScopeSet(scopes...)}
}

func (s *ServiceSuite) userEvents(userID id.UserID) []events.Event {
	got, err := s.outbox.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	return got
}

func (s *ServiceSuite) TestGet() {
	acct := s.seedAccount(func(a *accountmodels.Account) {
		a.Username = "casey"
		a.PrimaryEmail = "casey@example.com"
		a.PrimaryPhone = "+15550001111"
		a.Identities = map[string]accountmodels.SocialIdentity{
			"github": {UserID: "gh-1"},
		}
	})

	s.Run("filters fields outside the granted scopes", func() {
		view, err := s.service.Get(s.ctx, s.caller(acct, "profile"))
		s.Require().NoError(err)
		s.Equal("casey", view.Username)
		s.Nil(view.PrimaryEmail)
		s.Nil(view.PrimaryPhone)
		s.Nil(view.Identities)
	})

	s.Run("includes fields the caller may see", func() {
		view, err := s.service.Get(s.ctx, s.caller(acct, "profile", "email", "identities"))
		s.Require().NoError(err)
		s.Require().NotNil(view.PrimaryEmail)
		s.Equal("casey@example.com", *view.PrimaryEmail)
		s.Nil(view.PrimaryPhone)
		s.Contains(view.Identities, "github")
	})

	s.Run("unknown account is NotFound", func() {
		_, err := s.service.Get(s.ctx, gate.Caller{UserID: id.NewUserID()})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestUpdate() {
	str := func(v string) *string { return &v }

	s.Run("updates fields and emits one event", func() {
		acct := s.seedAccount(nil)
		view, err := s.service.Update(s.ctx, s.caller(acct, "profile"), accountmodels.ProfileUpdate{
			Name:   str("Casey Lee"),
			Avatar: str("https://cdn.example.com/a.png"),
		})
		s.Require().NoError(err)
		s.Equal("Casey Lee", view.Name)

		got := s.userEvents(acct.ID)
		s.Require().Len(got, 1)
		s.Equal(events.EventProfileUpdated, got[0].Type)
		s.Equal("name,avatar", got[0].Fields["fields"])
	})

	s.Run("requires the profile scope", func() {
		acct := s.seedAccount(nil)
		_, err := s.service.Update(s.ctx, s.caller(acct, "email"), accountmodels.ProfileUpdate{Name: str("x")})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects an empty patch", func() {
		acct := s.seedAccount(nil)
		_, err := s.service.Update(s.ctx, s.caller(acct, "profile"), accountmodels.ProfileUpdate{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("taken username conflicts and emits nothing", func() {
		s.seedAccount(func(a *accountmodels.Account) {
			a.Username = "taken"
			a.PrimaryEmail = "other@example.com"
		})
		acct := s.seedAccount(nil)
		_, err := s.service.Update(s.ctx, s.caller(acct, "profile"), accountmodels.ProfileUpdate{Username: str("taken")})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Empty(s.userEvents(acct.ID))
	})

	s.Run("keeping your own username is not a collision", func() {
		acct := s.seedAccount(nil)
		_, err := s.service.Update(s.ctx, s.caller(acct, "profile"), accountmodels.ProfileUpdate{Username: str(acct.Username)})
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestChangePassword() {
	s.Run("hashes, consumes the record, and emits", func() {
		acct := s.seedAccount(nil)
		rec := s.seedVerified(acct.ID, models.TypePassword, nil)

		err := s.service.ChangePassword(s.ctx, s.caller(acct), rec.ID, "Str0ng-and-long")
		s.Require().NoError(err)

		stored, err := s.accounts.FindByID(s.ctx, acct.ID)
		s.Require().NoError(err)
		s.NoError(bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Str0ng-and-long")))
		s.Equal(models.StatusConsumed, s.recordStatus(rec.ID))

		got := s.userEvents(acct.ID)
		s.Require().Len(got, 1)
		s.Equal(events.EventPasswordChanged, got[0].Type)
		s.Equal(rec.ID, got[0].RecordID)
	})

	s.Run("policy violation leaves the record verified", func() {
		acct := s.seedAccount(nil)
		rec := s.seedVerified(acct.ID, models.TypePassword, nil)

		err := s.service.ChangePassword(s.ctx, s.caller(acct), rec.ID, "short")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(models.StatusVerified, s.recordStatus(rec.ID))
		s.Empty(s.userEvents(acct.ID))
	})

	s.Run("previous password is pushed into history", func() {
		oldHash, err := bcrypt.GenerateFromPassword([]byte("Old-passw0rd"), bcrypt.MinCost)
		s.Require().NoError(err)
		acct := s.seedAccount(func(a *accountmodels.Account) {
			a.PasswordHash = string(oldHash)
		})
		rec := s.seedVerified(acct.ID, models.TypePassword, nil)

		s.Require().NoError(s.service.ChangePassword(s.ctx, s.caller(acct), rec.ID, "Str0ng-and-long"))

		stored, err := s.accounts.FindByID(s.ctx, acct.ID)
		s.Require().NoError(err)
		s.Require().Len(stored.PasswordHistory, 1)
		s.Equal(string(oldHash), stored.PasswordHistory[0])

		// Reusing the superseded password now violates the history rule.
		rec2 := s.seedVerified(acct.ID, models.TypePassword, nil)
		err = s.service.ChangePassword(s.ctx, s.caller(acct), rec2.ID, "Old-passw0rd")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("a consumed record cannot be replayed", func() {
		acct := s.seedAccount(nil)
		rec := s.seedVerified(acct.ID, models.TypePassword, nil)
		s.Require().NoError(s.service.ChangePassword(s.ctx, s.caller(acct), rec.ID, "Str0ng-and-long"))

		err := s.service.ChangePassword(s.ctx, s.caller(acct), rec.ID, "An0ther-passw0rd")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestChangePrimaryEmail() {
	emailRec := func(userID id.UserID, value string) *models.Record {
		return s.seedVerified(userID, models.TypeEmailCode, &models.Identifier{Kind: models.KindEmail, Value: value})
	}

	s.Run("consumes both records and writes the new email", func() {
		acct := s.seedAccount(nil)
		current := s.seedVerified(acct.ID, models.TypePassword, nil)
		fresh := emailRec(acct.ID, "new@example.com")

		err := s.service.ChangePrimaryEmail(s.ctx, s.caller(acct, "email"), current.ID, fresh.ID, "new@example.com")
		s.Require().NoError(err)

		stored, err := s.accounts.FindByID(s.ctx, acct.ID)
		s.Require().NoError(err)
		s.Equal("new@example.com", stored.PrimaryEmail)
		s.Equal(models.StatusConsumed, s.recordStatus(current.ID))
		s.Equal(models.StatusConsumed, s.recordStatus(fresh.ID))

		got := s.userEvents(acct.ID)
		s.Require().Len(got, 1)
		s.Equal(events.EventPrimaryEmailChanged, got[0].Type)
	})

	s.Run("mismatched claim leaves both records verified", func() {
		acct := s.seedAccount(nil)
		current := s.seedVerified(acct.ID, models.TypePassword, nil)
		fresh := emailRec(acct.ID, "new@example.com")

		err := s.service.ChangePrimaryEmail(s.ctx, s.caller(acct, "email"), current.ID, fresh.ID, "other@example.com")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Equal(models.StatusVerified, s.recordStatus(current.ID))
		s.Equal(models.StatusVerified, s.recordStatus(fresh.ID))
	})

	s.Run("email held by another account conflicts", func() {
		s.seedAccount(func(a *accountmodels.Account) {
			a.Username = "other"
			a.PrimaryEmail = "taken@example.com"
		})
		acct := s.seedAccount(nil)
		current := s.seedVerified(acct.ID, models.TypePassword, nil)
		fresh := emailRec(acct.ID, "taken@example.com")

		err := s.service.ChangePrimaryEmail(s.ctx, s.caller(acct, "email"), current.ID, fresh.ID, "taken@example.com")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("concurrent changes with the same records admit one winner", func() {
		acct := s.seedAccount(nil)
		current := s.seedVerified(acct.ID, models.TypePassword, nil)
		fresh := emailRec(acct.ID, "new@example.com")
		caller := s.caller(acct, "email")

		// Losers fail either at the consuming CAS (Conflict) or, arriving
		// after the winner committed, at the gate on a Consumed record
		// (Unauthorized). Never a second success.
		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.service.ChangePrimaryEmail(s.ctx, caller, current.ID, fresh.ID, "new@example.com")
				switch {
				case err == nil:
					wins.Add(1)
				case dErrors.HasCode(err, dErrors.CodeConflict) || dErrors.HasCode(err, dErrors.CodeUnauthorized):
					losses.Add(1)
				}
			}()
		}
		wg.Wait()

		s.Equal(int32(1), wins.Load(), "exactly one racer may consume the records")
		s.Equal(int32(9), losses.Load())
	})
}

func (s *ServiceSuite) TestChangePrimaryPhone() {
	acct := s.seedAccount(nil)
	current := s.seedVerified(acct.ID, models.TypePassword, nil)
	fresh := s.seedVerified(acct.ID, models.TypePhoneCode, &models.Identifier{Kind: models.KindPhone, Value: "+15550002222"})

	err := s.service.ChangePrimaryPhone(s.ctx, s.caller(acct, "phone"), current.ID, fresh.ID, "+15550002222")
	s.Require().NoError(err)

	stored, err := s.accounts.FindByID(s.ctx, acct.ID)
	s.Require().NoError(err)
	s.Equal("+15550002222", stored.PrimaryPhone)
	s.Equal(models.StatusConsumed, s.recordStatus(fresh.ID))
}

func (s *ServiceSuite) TestLinkAndUnlinkIdentity() {
	socialRec := func(userID id.UserID, target, externalID string) *models.Record {
		return s.seedVerified(userID, models.TypeSocial,
			&models.Identifier{Kind: models.KindSocial, Value: target, ExternalID: externalID})
	}

	s.Run("links a verified identity", func() {
		acct := s.seedAccount(nil)
		current := s.seedVerified(acct.ID, models.TypePassword, nil)
		fresh := socialRec(acct.ID, "github", "gh-1")

		err := s.service.LinkIdentity(s.ctx, s.caller(acct, "identities"), current.ID, fresh.ID,
			"github", accountmodels.SocialIdentity{UserID: "gh-1"})
		s.Require().NoError(err)

		stored, err := s.accounts.FindByID(s.ctx, acct.ID)
		s.Require().NoError(err)
		s.Contains(stored.Identities, "github")

		got := s.userEvents(acct.ID)
		s.Require().Len(got, 1)
		s.Equal(events.EventIdentityLinked, got[0].Type)
		s.Equal("github", got[0].Fields["target"])
	})

	s.Run("identity claimed by another account conflicts", func() {
		s.seedAccount(func(a *accountmodels.Account) {
			a.Username = "other"
			a.PrimaryEmail = "other2@example.com"
			a.Identities = map[string]accountmodels.SocialIdentity{"github": {UserID: "gh-9"}}
		})
		acct := s.seedAccount(nil)
		current := s.seedVerified(acct.ID, models.TypePassword, nil)
		fresh := socialRec(acct.ID, "github", "gh-9")

		err := s.service.LinkIdentity(s.ctx, s.caller(acct, "identities"), current.ID, fresh.ID,
			"github", accountmodels.SocialIdentity{UserID: "gh-9"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unlinks a linked identity", func() {
		acct := s.seedAccount(func(a *accountmodels.Account) {
			a.Identities = map[string]accountmodels.SocialIdentity{"github": {UserID: "gh-1"}}
		})
		rec := s.seedVerified(acct.ID, models.TypePassword, nil)

		err := s.service.UnlinkIdentity(s.ctx, s.caller(acct, "identities"), rec.ID, "github")
		s.Require().NoError(err)

		stored, err := s.accounts.FindByID(s.ctx, acct.ID)
		s.Require().NoError(err)
		s.NotContains(stored.Identities, "github")
		s.Equal(models.StatusConsumed, s.recordStatus(rec.ID))
	})

	s.Run("unlinking an absent target is NotFound and consumes nothing", func() {
		acct := s.seedAccount(nil)
		rec := s.seedVerified(acct.ID, models.TypePassword, nil)

		err := s.service.UnlinkIdentity(s.ctx, s.caller(acct, "identities"), rec.ID, "github")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(models.StatusVerified, s.recordStatus(rec.ID))
	})
}
