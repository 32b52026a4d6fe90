// Package tx carries a SQL transaction through context so stores can join an
// in-flight transaction without their interfaces knowing about database/sql.
package tx

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes functions inside a database transaction. Stores that join
// the transaction read it back out of the context via From.
type Runner struct {
	db *sql.DB
}

// NewRunner wraps a database handle.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// RunInTransaction begins a transaction, injects it into the context, and
// commits when fn returns nil. Any error rolls the whole transaction back, so
// partial application is impossible: either every write in fn lands or none
// do.
func (r *Runner) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PassthroughRunner satisfies the same contract for stores without multi-row
// transactions (in-memory, Redis). fn runs directly against the base context;
// atomicity then relies on the stores' own compare-and-swap guards.
type PassthroughRunner struct{}

// RunInTransaction invokes fn with the context unchanged.
func (PassthroughRunner) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
