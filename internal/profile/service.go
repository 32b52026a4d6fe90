// Package profile applies authorized changes to the caller's own account.
// Every sensitive mutation runs as one transaction: consume the verification
// record(s), write the account, append the change event to the outbox. An
// abort anywhere leaves the records Verified and the account untouched.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"attest/internal/account"
	accountmodels "attest/internal/account/models"
	accountstore "attest/internal/account/store"
	"attest/internal/events"
	gate "attest/internal/gate/service"
	"attest/internal/password"
	"attest/internal/verification/models"
	recordstore "attest/internal/verification/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/sentinel"
)

// TxRunner runs a function transactionally. tx.Runner implements it over
// Postgres; tx.PassthroughRunner serves the in-memory and Redis stacks.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the account mutation layer behind the profile endpoints.
type Service struct {
	accounts   accountstore.AccountStore
	records    recordstore.RecordStore
	collisions *account.CollisionChecker
	gate       *gate.Gate
	passwords  *password.Validator
	outbox     *events.Publisher
	runner     TxRunner
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(
	accounts accountstore.AccountStore,
	records recordstore.RecordStore,
	collisions *account.CollisionChecker,
	g *gate.Gate,
	passwords *password.Validator,
	outbox *events.Publisher,
	runner TxRunner,
	opts ...Option,
) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if collisions == nil {
		return nil, fmt.Errorf("collision checker is required")
	}
	if g == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if passwords == nil {
		return nil, fmt.Errorf("password validator is required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}

	s := &Service{
		accounts:   accounts,
		records:    records,
		collisions: collisions,
		gate:       g,
		passwords:  passwords,
		outbox:     outbox,
		runner:     runner,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the caller's profile filtered to their granted scopes.
func (s *Service) Get(ctx context.Context, caller gate.Caller) (*View, error) {
	acct, err := s.loadAccount(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	return NewView(acct, caller.Scopes), nil
}

// Update changes the basic profile fields. A username change needs no
// verification record, only the profile scope and a free username.
func (s *Service) Update(ctx context.Context, caller gate.Caller, update accountmodels.ProfileUpdate) (*View, error) {
	if !caller.Scopes.Has(id.ScopeProfile) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing required scope")
	}
	if update.Empty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "no profile fields to update")
	}

	var updated *accountmodels.Account
	err := s.runner.RunInTransaction(ctx, func(ctx context.Context) error {
		if update.Username != nil && *update.Username != "" {
			candidate := id.Identifier{Kind: id.KindUsername, Value: *update.Username}
			if err := s.collisions.Check(ctx, candidate, caller.UserID); err != nil {
				return err
			}
		}

		acct, err := s.accounts.UpdateProfile(ctx, caller.UserID, update)
		if err != nil {
			return s.translateStoreErr(err)
		}
		updated = acct

		return s.emit(ctx, events.Event{
			Type:   events.EventProfileUpdated,
			UserID: caller.UserID,
			Fields: map[string]string{"fields": update.ChangedFields()},
		})
	})
	if err != nil {
		return nil, err
	}
	return NewView(updated, caller.Scopes), nil
}

// ChangePassword sets a new password after a verification proof and a policy
// check. The superseded hash joins the bounded history.
func (s *Service) ChangePassword(ctx context.Context, caller gate.Caller, recordID id.RecordID, newPassword string) error {
	record, err := s.gate.AuthorizeOwnedRecord(ctx, caller, recordID, "")
	if err != nil {
		return err
	}

	acct, err := s.loadAccount(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.passwords.Validate(newPassword, acct); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	return s.runner.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.consume(ctx, record.ID); err != nil {
			return err
		}

		acct.PushPasswordHistory()
		if _, err := s.accounts.SetPassword(ctx, caller.UserID, string(hash), acct.PasswordHistory); err != nil {
			return s.translateStoreErr(err)
		}

		return s.emit(ctx, events.Event{
			Type:     events.EventPasswordChanged,
			UserID:   caller.UserID,
			RecordID: record.ID,
		})
	})
}

// ChangePrimaryEmail replaces the primary email. Two proofs are required: one
// that the caller may change identifiers at all, one that the new address was
// itself verified. Both records are consumed in the same transaction as the
// write.
func (s *Service) ChangePrimaryEmail(ctx context.Context, caller gate.Caller, currentRecordID, newRecordID id.RecordID, email string) error {
	candidate := id.Identifier{Kind: id.KindEmail, Value: email}
	newRecord, err := s.gate.AuthorizeIdentityChange(ctx, caller, currentRecordID, newRecordID, candidate, id.ScopeEmail)
	if err != nil {
		return err
	}

	return s.runner.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.consumeBoth(ctx, currentRecordID, newRecord.ID); err != nil {
			return err
		}
		if _, err := s.accounts.SetPrimaryEmail(ctx, caller.UserID, email); err != nil {
			return s.translateStoreErr(err)
		}
		return s.emit(ctx, events.Event{
			Type:     events.EventPrimaryEmailChanged,
			UserID:   caller.UserID,
			RecordID: newRecord.ID,
			Fields:   map[string]string{"kind": string(id.KindEmail)},
		})
	})
}

// ChangePrimaryPhone replaces the primary phone, mirroring ChangePrimaryEmail.
func (s *Service) ChangePrimaryPhone(ctx context.Context, caller gate.Caller, currentRecordID, newRecordID id.RecordID, phone string) error {
	candidate := id.Identifier{Kind: id.KindPhone, Value: phone}
	newRecord, err := s.gate.AuthorizeIdentityChange(ctx, caller, currentRecordID, newRecordID, candidate, id.ScopePhone)
	if err != nil {
		return err
	}

	return s.runner.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.consumeBoth(ctx, currentRecordID, newRecord.ID); err != nil {
			return err
		}
		if _, err := s.accounts.SetPrimaryPhone(ctx, caller.UserID, phone); err != nil {
			return s.translateStoreErr(err)
		}
		return s.emit(ctx, events.Event{
			Type:     events.EventPrimaryPhoneChanged,
			UserID:   caller.UserID,
			RecordID: newRecord.ID,
			Fields:   map[string]string{"kind": string(id.KindPhone)},
		})
	})
}

// LinkIdentity attaches a verified social identity under the provider target.
func (s *Service) LinkIdentity(ctx context.Context, caller gate.Caller, currentRecordID, newRecordID id.RecordID, target string, identity accountmodels.SocialIdentity) error {
	candidate := id.Identifier{Kind: id.KindSocial, Value: target, ExternalID: identity.UserID}
	newRecord, err := s.gate.AuthorizeIdentityChange(ctx, caller, currentRecordID, newRecordID, candidate, id.ScopeIdentities)
	if err != nil {
		return err
	}

	return s.runner.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.consumeBoth(ctx, currentRecordID, newRecord.ID); err != nil {
			return err
		}
		if _, err := s.accounts.LinkIdentity(ctx, caller.UserID, target, identity); err != nil {
			return s.translateStoreErr(err)
		}
		return s.emit(ctx, events.Event{
			Type:     events.EventIdentityLinked,
			UserID:   caller.UserID,
			RecordID: newRecord.ID,
			Fields:   map[string]string{"target": target},
		})
	})
}

// UnlinkIdentity removes a linked social identity. Only one proof is needed:
// the caller is removing, not claiming, an identifier.
func (s *Service) UnlinkIdentity(ctx context.Context, caller gate.Caller, recordID id.RecordID, target string) error {
	record, err := s.gate.AuthorizeOwnedRecord(ctx, caller, recordID, id.ScopeIdentities)
	if err != nil {
		return err
	}

	acct, err := s.loadAccount(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if _, ok := acct.Identities[target]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "identity %q is not linked", target)
	}

	return s.runner.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.consume(ctx, record.ID); err != nil {
			return err
		}
		if _, err := s.accounts.UnlinkIdentity(ctx, caller.UserID, target); err != nil {
			return s.translateStoreErr(err)
		}
		return s.emit(ctx, events.Event{
			Type:     events.EventIdentityUnlinked,
			UserID:   caller.UserID,
			RecordID: record.ID,
			Fields:   map[string]string{"target": target},
		})
	})
}

func (s *Service) loadAccount(ctx context.Context, userID id.UserID) (*accountmodels.Account, error) {
	acct, err := s.accounts.FindByID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return acct, nil
}

// consume performs the Verified -> Consumed compare-and-swap. Exactly one of
// several racing transactions wins it; the rest surface AlreadyConsumed.
func (s *Service) consume(ctx context.Context, recordID id.RecordID) error {
	err := s.records.CompareAndSwapStatus(ctx, recordID, models.StatusVerified, models.StatusConsumed)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "verification record already used")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification record not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "verification record not verified")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume verification record")
	}
}

func (s *Service) consumeBoth(ctx context.Context, currentRecordID, newRecordID id.RecordID) error {
	if err := s.consume(ctx, currentRecordID); err != nil {
		return err
	}
	return s.consume(ctx, newRecordID)
}

// translateStoreErr maps storage sentinels to coded errors. The unique-index
// conflict path is the final collision arbiter when two racers both passed
// the early check.
func (s *Service) translateStoreErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "identifier already in use")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "account write failed")
	}
}

func (s *Service) emit(ctx context.Context, event events.Event) error {
	if err := s.outbox.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record account event")
	}
	return nil
}
