// Package account wraps account storage with the domain services the
// sensitive-operation gate depends on: identifier collision checks today.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"attest/internal/account/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/sentinel"
)

// CollisionChecker answers "does any other account already hold this
// identifier?". It must run inside the same transaction as the eventual
// account write: two racers can both pass here, and then the storage unique
// index decides the winner at commit. This check exists for the early,
// user-friendly rejection, not the final guarantee.
type CollisionChecker struct {
	accounts store.AccountStore
	logger   *slog.Logger
}

type CollisionOption func(*CollisionChecker)

func WithCollisionLogger(logger *slog.Logger) CollisionOption {
	return func(c *CollisionChecker) {
		c.logger = logger
	}
}

func NewCollisionChecker(accounts store.AccountStore, opts ...CollisionOption) (*CollisionChecker, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}

	c := &CollisionChecker{accounts: accounts, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check returns a Conflict error when an account other than excludeUserID
// holds the candidate identifier, nil when the identifier is free (or held by
// the excluded account itself).
func (c *CollisionChecker) Check(ctx context.Context, candidate id.Identifier, excludeUserID id.UserID) error {
	holder, err := c.accounts.FindByIdentifier(ctx, candidate)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check identifier collision")
	}
	if holder.ID == excludeUserID {
		return nil
	}

	c.logger.InfoContext(ctx, "identifier collision detected",
		"kind", candidate.Kind,
		"holder_id", holder.ID,
		"requester_id", excludeUserID,
	)
	return dErrors.Newf(dErrors.CodeConflict, "%s already in use", candidate.Kind)
}
