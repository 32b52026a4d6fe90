// Package service implements the sensitive-operation gate: the authorization
// check required before mutating a security-relevant account attribute. Every
// operation is a pure decision function; the gate never writes to storage,
// and record consumption is left to the mutation transaction.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"attest/internal/account"
	"attest/internal/gate/metrics"
	"attest/internal/verification"
	"attest/internal/verification/models"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
)

// Caller is the authenticated identity performing the request, as resolved by
// the auth layer. The gate treats Scopes as an opaque set.
type Caller struct {
	UserID id.UserID
	Scopes id.ScopeSet
}

// Gate enforces ownership, scope, freshness, and new-value consistency before
// a sensitive account mutation may proceed.
type Gate struct {
	resolver   *verification.Resolver
	collisions *account.CollisionChecker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func New(resolver *verification.Resolver, collisions *account.CollisionChecker, opts ...Option) (*Gate, error) {
	if resolver == nil {
		return nil, fmt.Errorf("verification resolver is required")
	}
	if collisions == nil {
		return nil, fmt.Errorf("collision checker is required")
	}

	g := &Gate{
		resolver:   resolver,
		collisions: collisions,
		logger:     slog.Default(),
		tracer:     otel.Tracer("attest/gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AuthorizeOwnedRecord proves the caller recently completed a challenge for
// this class of operation. It resolves the record, then checks ownership,
// verified status, and scope, in that order.
//
// Wrong ownership surfaces as NotFound: the distinction from a genuinely
// missing record lives only in the logs, never in the response, so record ids
// cannot be used to enumerate accounts. The record is NOT consumed here; one
// record may gate several checks of a single logical operation before the
// final commit consumes it.
func (g *Gate) AuthorizeOwnedRecord(ctx context.Context, caller Caller, recordID id.RecordID, requiredScope id.Scope) (*models.Record, error) {
	ctx, span := g.tracer.Start(ctx, "gate.AuthorizeOwnedRecord",
		trace.WithAttributes(attribute.String("record_id", recordID.String())))
	defer span.End()
	start := time.Now()

	record, err := g.resolver.ResolveAny(ctx, recordID)
	if err != nil {
		g.observe("authorize_owned_record", outcomeOf(err), start)
		return nil, err
	}

	if record.UserID != caller.UserID {
		g.logger.WarnContext(ctx, "verification record ownership mismatch",
			"record_id", recordID,
			"record_owner", record.UserID,
			"caller", caller.UserID,
		)
		g.observe("authorize_owned_record", "ownership_mismatch", start)
		return nil, dErrors.New(dErrors.CodeNotFound, "verification record not found")
	}

	if record.Status != models.StatusVerified {
		g.observe("authorize_owned_record", "not_verified", start)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification record not verified")
	}

	if requiredScope != "" && !caller.Scopes.Has(requiredScope) {
		g.observe("authorize_owned_record", "missing_scope", start)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing required scope")
	}

	g.observe("authorize_owned_record", "allowed", start)
	return record, nil
}

// AuthorizeIdentityChange authorizes replacing or adding a unique identifier.
// It requires two proofs: currentRecordID shows the caller may change this
// class of identifier at all; newRecordID shows the claimed new value was
// itself independently verified. The two resolutions are independent and run
// concurrently.
//
// On success the returned record is the new-identifier record; the caller's
// commit must consume both records and apply the account write in one
// transaction.
func (g *Gate) AuthorizeIdentityChange(ctx context.Context, caller Caller, currentRecordID, newRecordID id.RecordID, candidate id.Identifier, requiredScope id.Scope) (*models.Record, error) {
	ctx, span := g.tracer.Start(ctx, "gate.AuthorizeIdentityChange",
		trace.WithAttributes(attribute.String("identifier_kind", string(candidate.Kind))))
	defer span.End()
	start := time.Now()

	expectedType := models.TypeForKind(candidate.Kind)
	if !expectedType.IsValid() {
		g.observe("authorize_identity_change", "invalid_input", start)
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "identifier kind %q cannot be verified", candidate.Kind)
	}

	var newRecord *models.Record
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, err := g.AuthorizeOwnedRecord(egCtx, caller, currentRecordID, requiredScope)
		return err
	})
	eg.Go(func() error {
		record, err := g.resolver.Resolve(egCtx, newRecordID, expectedType)
		if err != nil {
			return err
		}
		newRecord = record
		return nil
	})
	if err := eg.Wait(); err != nil {
		g.observe("authorize_identity_change", outcomeOf(err), start)
		return nil, err
	}

	if newRecord.Status != models.StatusVerified {
		g.observe("authorize_identity_change", "new_record_not_verified", start)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification record not verified")
	}

	if newRecord.Identifier == nil || !g.identifierMatches(newRecord.Identifier, candidate) {
		g.observe("authorize_identity_change", "verification_mismatch", start)
		return nil, dErrors.New(dErrors.CodeBadRequest, "verification record does not match the claimed identifier")
	}

	if err := g.collisions.Check(ctx, candidate, caller.UserID); err != nil {
		g.observe("authorize_identity_change", outcomeOf(err), start)
		return nil, err
	}

	g.observe("authorize_identity_change", "allowed", start)
	return newRecord, nil
}

// identifierMatches checks the challenge identifier against the claimed
// candidate. Social challenges must match on both provider target and
// external subject; value-based channels match per their case rules.
func (g *Gate) identifierMatches(recorded *models.Identifier, candidate id.Identifier) bool {
	if recorded.Kind != candidate.Kind {
		return false
	}
	if candidate.Kind == id.KindSocial {
		return recorded.Value == candidate.Value && recorded.ExternalID == candidate.ExternalID
	}
	return recorded.Matches(candidate.Value)
}

func (g *Gate) observe(operation, outcome string, start time.Time) {
	g.metrics.ObserveDecision(operation, outcome, time.Since(start).Seconds())
}

func outcomeOf(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeUnauthorized:
		return "unauthorized"
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "invalid_input"
	default:
		return "error"
	}
}
