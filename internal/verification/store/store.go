// Package store persists verification records. Implementations must make the
// consuming transition a compare-and-swap on the stored status so concurrent
// consumers serialize: exactly one wins, the rest observe ErrAlreadyUsed.
package store

import (
	"context"

	"attest/internal/verification/models"
	id "attest/pkg/domain"
)

// RecordStore is the persistence boundary for verification records.
//
// CompareAndSwapStatus returns sentinel.ErrNotFound when the record does not
// exist, sentinel.ErrAlreadyUsed when the stored status is already the target
// terminal status, and sentinel.ErrInvalidState when the stored status is
// neither `from` nor `to`.
type RecordStore interface {
	Create(ctx context.Context, record *models.Record) error
	Get(ctx context.Context, recordID id.RecordID) (*models.Record, error)
	CompareAndSwapStatus(ctx context.Context, recordID id.RecordID, from, to models.Status) error
	IncrementAttempts(ctx context.Context, recordID id.RecordID) (int, error)
}
