package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"attest/internal/verification/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
	txcontext "attest/pkg/platform/tx"
)

// Postgres stores verification records in the verification_records table.
// The consuming transition is a conditional UPDATE keyed on the current
// status, so a losing concurrent consumer observably fails instead of
// double-applying.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner joins an in-flight transaction from context when present, so the
// consuming transition and the account write share one commit.
func (s *Postgres) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const uniqueViolation = "23505"

func (s *Postgres) Create(ctx context.Context, record *models.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	var identifier []byte
	if record.Identifier != nil {
		var err error
		identifier, err = json.Marshal(record.Identifier)
		if err != nil {
			return fmt.Errorf("marshal identifier: %w", err)
		}
	}

	query := `
		INSERT INTO verification_records
			(id, user_id, type, identifier, status, attempt_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.runner(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.UserID),
		string(record.Type),
		identifier,
		string(record.Status),
		record.AttemptCount,
		record.CreatedAt,
		record.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verification record: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	query := `
		SELECT id, user_id, type, identifier, status, attempt_count, created_at, expires_at
		FROM verification_records
		WHERE id = $1
	`
	row := s.runner(ctx).QueryRowContext(ctx, query, uuid.UUID(recordID))

	var (
		record     models.Record
		recID      uuid.UUID
		userID     uuid.UUID
		typ        string
		identifier []byte
		status     string
	)
	err := row.Scan(&recID, &userID, &typ, &identifier, &status,
		&record.AttemptCount, &record.CreatedAt, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select verification record: %w", err)
	}

	record.ID = id.RecordID(recID)
	record.UserID = id.UserID(userID)
	record.Type = models.Type(typ)
	record.Status = models.Status(status)
	if len(identifier) > 0 {
		var ident models.Identifier
		if err := json.Unmarshal(identifier, &ident); err != nil {
			return nil, fmt.Errorf("unmarshal identifier: %w", err)
		}
		record.Identifier = &ident
	}
	return &record, nil
}

func (s *Postgres) CompareAndSwapStatus(ctx context.Context, recordID id.RecordID, from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return sentinel.ErrInvalidState
	}

	query := `
		UPDATE verification_records
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	res, err := s.runner(ctx).ExecContext(ctx, query, string(to), uuid.UUID(recordID), string(from))
	if err != nil {
		return fmt.Errorf("update verification record status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// The swap lost; distinguish missing, already-terminal, and wrong-state.
	current, getErr := s.Get(ctx, recordID)
	if getErr != nil {
		return getErr
	}
	if current.Status == to {
		return sentinel.ErrAlreadyUsed
	}
	return sentinel.ErrInvalidState
}

func (s *Postgres) IncrementAttempts(ctx context.Context, recordID id.RecordID) (int, error) {
	query := `
		UPDATE verification_records
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`
	var count int
	err := s.runner(ctx).QueryRowContext(ctx, query, uuid.UUID(recordID)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempt count: %w", err)
	}
	return count, nil
}
