package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"attest/internal/account/models"
	id "attest/pkg/domain"
	"attest/pkg/platform/sentinel"
	txcontext "attest/pkg/platform/tx"
)

// Postgres persists accounts across two tables: accounts, and
// account_identities with a UNIQUE (target, external_id) index. Those unique
// indexes are the final arbiter for identifier collisions; the collision
// checker only provides the early, friendly rejection.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const uniqueViolation = "23505"

func translatePQ(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return sentinel.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Postgres) Create(ctx context.Context, account *models.Account) error {
	history, err := json.Marshal(account.PasswordHistory)
	if err != nil {
		return fmt.Errorf("marshal password history: %w", err)
	}

	query := `
		INSERT INTO accounts
			(id, username, primary_email, primary_phone, name, avatar,
			 password_hash, password_history, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
	`
	_, err = s.runner(ctx).ExecContext(ctx, query,
		uuid.UUID(account.ID),
		account.Username,
		account.PrimaryEmail,
		account.PrimaryPhone,
		account.Name,
		account.Avatar,
		account.PasswordHash,
		history,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return translatePQ(err, "insert account")
	}

	for target, identity := range account.Identities {
		if err := s.insertIdentity(ctx, account.ID, target, identity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) insertIdentity(ctx context.Context, userID id.UserID, target string, identity models.SocialIdentity) error {
	details, err := json.Marshal(identity.Details)
	if err != nil {
		return fmt.Errorf("marshal identity details: %w", err)
	}
	query := `
		INSERT INTO account_identities (user_id, target, external_id, details)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.runner(ctx).ExecContext(ctx, query, uuid.UUID(userID), target, identity.UserID, details); err != nil {
		return translatePQ(err, "insert account identity")
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, userID id.UserID) (*models.Account, error) {
	query := `
		SELECT id, COALESCE(username, ''), COALESCE(primary_email, ''),
		       COALESCE(primary_phone, ''), name, avatar, password_hash,
		       password_history, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	return s.scanAccount(ctx, s.runner(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
}

func (s *Postgres) FindByIdentifier(ctx context.Context, ident id.Identifier) (*models.Account, error) {
	var (
		query string
		args  []any
	)
	switch ident.Kind {
	case id.KindEmail:
		// Local part exact, domain case-insensitive: stored addresses keep
		// their original form, so compare on a normalized expression.
		query = `
			SELECT id, COALESCE(username, ''), COALESCE(primary_email, ''),
			       COALESCE(primary_phone, ''), name, avatar, password_hash,
			       password_history, created_at, updated_at
			FROM accounts
			WHERE split_part(primary_email, '@', 1) = split_part($1, '@', 1)
			  AND lower(split_part(primary_email, '@', 2)) = lower(split_part($1, '@', 2))
		`
		args = []any{ident.Value}
	case id.KindPhone:
		query = `
			SELECT id, COALESCE(username, ''), COALESCE(primary_email, ''),
			       COALESCE(primary_phone, ''), name, avatar, password_hash,
			       password_history, created_at, updated_at
			FROM accounts
			WHERE primary_phone = $1
		`
		args = []any{ident.Value}
	case id.KindUsername:
		query = `
			SELECT id, COALESCE(username, ''), COALESCE(primary_email, ''),
			       COALESCE(primary_phone, ''), name, avatar, password_hash,
			       password_history, created_at, updated_at
			FROM accounts
			WHERE username = $1
		`
		args = []any{ident.Value}
	case id.KindSocial:
		query = `
			SELECT a.id, COALESCE(a.username, ''), COALESCE(a.primary_email, ''),
			       COALESCE(a.primary_phone, ''), a.name, a.avatar, a.password_hash,
			       a.password_history, a.created_at, a.updated_at
			FROM accounts a
			JOIN account_identities i ON i.user_id = a.id
			WHERE i.target = $1 AND i.external_id = $2
		`
		args = []any{ident.Value, ident.ExternalID}
	default:
		return nil, fmt.Errorf("unsupported identifier kind %q", ident.Kind)
	}

	return s.scanAccount(ctx, s.runner(ctx).QueryRowContext(ctx, query, args...))
}

func (s *Postgres) scanAccount(ctx context.Context, row *sql.Row) (*models.Account, error) {
	var (
		account models.Account
		userID  uuid.UUID
		history []byte
	)
	err := row.Scan(&userID, &account.Username, &account.PrimaryEmail,
		&account.PrimaryPhone, &account.Name, &account.Avatar,
		&account.PasswordHash, &history, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	account.ID = id.UserID(userID)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &account.PasswordHistory); err != nil {
			return nil, fmt.Errorf("unmarshal password history: %w", err)
		}
	}
	if err := s.loadIdentities(ctx, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Postgres) loadIdentities(ctx context.Context, account *models.Account) error {
	query := `
		SELECT target, external_id, details
		FROM account_identities
		WHERE user_id = $1
	`
	rows, err := s.runner(ctx).QueryContext(ctx, query, uuid.UUID(account.ID))
	if err != nil {
		return fmt.Errorf("select account identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			target     string
			externalID string
			details    []byte
		)
		if err := rows.Scan(&target, &externalID, &details); err != nil {
			return fmt.Errorf("scan account identity: %w", err)
		}
		identity := models.SocialIdentity{UserID: externalID}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &identity.Details); err != nil {
				return fmt.Errorf("unmarshal identity details: %w", err)
			}
		}
		if account.Identities == nil {
			account.Identities = make(map[string]models.SocialIdentity)
		}
		account.Identities[target] = identity
	}
	return rows.Err()
}

func (s *Postgres) UpdateProfile(ctx context.Context, userID id.UserID, update models.ProfileUpdate) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET name       = COALESCE($2, name),
		    avatar     = COALESCE($3, avatar),
		    username   = CASE WHEN $4::text IS NULL THEN username ELSE NULLIF($4, '') END,
		    updated_at = now()
		WHERE id = $1
	`
	res, err := s.runner(ctx).ExecContext(ctx, query,
		uuid.UUID(userID), update.Name, update.Avatar, update.Username)
	if err != nil {
		return nil, translatePQ(err, "update profile")
	}
	return s.afterWrite(ctx, userID, res)
}

func (s *Postgres) SetPassword(ctx context.Context, userID id.UserID, hash string, history []string) (*models.Account, error) {
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal password history: %w", err)
	}
	query := `
		UPDATE accounts
		SET password_hash = $2, password_history = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := s.runner(ctx).ExecContext(ctx, query, uuid.UUID(userID), hash, encoded)
	if err != nil {
		return nil, translatePQ(err, "set password")
	}
	return s.afterWrite(ctx, userID, res)
}

func (s *Postgres) SetPrimaryEmail(ctx context.Context, userID id.UserID, email string) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET primary_email = NULLIF($2, ''), updated_at = now()
		WHERE id = $1
	`
	res, err := s.runner(ctx).ExecContext(ctx, query, uuid.UUID(userID), email)
	if err != nil {
		return nil, translatePQ(err, "set primary email")
	}
	return s.afterWrite(ctx, userID, res)
}

func (s *Postgres) SetPrimaryPhone(ctx context.Context, userID id.UserID, phone string) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET primary_phone = NULLIF($2, ''), updated_at = now()
		WHERE id = $1
	`
	res, err := s.runner(ctx).ExecContext(ctx, query, uuid.UUID(userID), phone)
	if err != nil {
		return nil, translatePQ(err, "set primary phone")
	}
	return s.afterWrite(ctx, userID, res)
}

func (s *Postgres) LinkIdentity(ctx context.Context, userID id.UserID, target string, identity models.SocialIdentity) (*models.Account, error) {
	if err := s.insertIdentity(ctx, userID, target, identity); err != nil {
		return nil, err
	}
	touch := `UPDATE accounts SET updated_at = now() WHERE id = $1`
	res, err := s.runner(ctx).ExecContext(ctx, touch, uuid.UUID(userID))
	if err != nil {
		return nil, translatePQ(err, "touch account")
	}
	return s.afterWrite(ctx, userID, res)
}

func (s *Postgres) UnlinkIdentity(ctx context.Context, userID id.UserID, target string) (*models.Account, error) {
	query := `
		DELETE FROM account_identities
		WHERE user_id = $1 AND target = $2
	`
	res, err := s.runner(ctx).ExecContext(ctx, query, uuid.UUID(userID), target)
	if err != nil {
		return nil, translatePQ(err, "delete account identity")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, sentinel.ErrInvalidState
	}
	return s.FindByID(ctx, userID)
}

func (s *Postgres) afterWrite(ctx context.Context, userID id.UserID, res sql.Result) (*models.Account, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, sentinel.ErrNotFound
	}
	return s.FindByID(ctx, userID)
}
