// Package verification resolves stored verification records into typed,
// validated views. Resolution is a pure read: expiry is evaluated lazily at
// read time, so no background sweep is needed and every caller re-checks.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"attest/internal/verification/metrics"
	"attest/internal/verification/models"
	"attest/internal/verification/store"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/sentinel"
	"attest/pkg/requestcontext"
)

// Resolver builds verification record views by id and expected type.
type Resolver struct {
	records store.RecordStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func NewResolver(records store.RecordStore, opts ...Option) (*Resolver, error) {
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}

	r := &Resolver{records: records, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// errRecordNotFound is the uniform outward answer for "missing" and "wrong
// type". A caller probing record ids must not be able to distinguish a type
// mismatch from absence.
func errRecordNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "verification record not found")
}

// Resolve loads the record and enforces type match and expiry.
//
// A stored type differing from expectedType surfaces as NotFound; the
// mismatch is logged for operators but never leaked to the caller. Expiry
// dominates status: a Verified record past its ExpiresAt is rejected no
// matter what the stored status says.
func (r *Resolver) Resolve(ctx context.Context, recordID id.RecordID, expectedType models.Type) (*models.Record, error) {
	if !expectedType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown verification type %q", expectedType)
	}

	record, err := r.records.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			r.metrics.ObserveResolution("not_found")
			return nil, errRecordNotFound()
		}
		r.metrics.ObserveResolution("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}

	if record.Type != expectedType {
		r.logger.DebugContext(ctx, "verification record type mismatch",
			"record_id", recordID,
			"stored_type", record.Type,
			"expected_type", expectedType,
		)
		r.metrics.ObserveResolution("type_mismatch")
		return nil, errRecordNotFound()
	}

	if record.ExpiredAt(requestcontext.Now(ctx)) {
		r.metrics.ObserveResolution("expired")
		return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeUnauthorized, "verification record expired")
	}

	r.metrics.ObserveResolution("ok")
	return record, nil
}

// ResolveAny loads a record without a type expectation, for flows where any
// completed challenge proves the user (the sensitive-permission proof).
// Expiry is still enforced.
func (r *Resolver) ResolveAny(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	record, err := r.records.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			r.metrics.ObserveResolution("not_found")
			return nil, errRecordNotFound()
		}
		r.metrics.ObserveResolution("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}

	if record.ExpiredAt(requestcontext.Now(ctx)) {
		r.metrics.ObserveResolution("expired")
		return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeUnauthorized, "verification record expired")
	}

	r.metrics.ObserveResolution("ok")
	return record, nil
}
