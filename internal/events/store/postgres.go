package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"attest/internal/events"
	id "attest/pkg/domain"
	txcontext "attest/pkg/platform/tx"
)

// Postgres persists the outbox in the outbox table. Append joins the caller's
// transaction when one is in the context, so the event row commits or rolls
// back together with the account write that produced it.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) runner(ctx context.Context) runner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, event events.Event) error {
	fields, err := json.Marshal(event.Fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}

	var recordID any
	if !event.RecordID.IsNil() {
		recordID = event.RecordID.String()
	}

	query := `
		INSERT INTO outbox (id, user_id, record_id, event_type, request_id, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.runner(ctx).ExecContext(ctx, query,
		event.ID,
		event.UserID.String(),
		recordID,
		string(event.Type),
		event.RequestID,
		fields,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Postgres) ListPending(ctx context.Context, limit int) ([]events.Event, error) {
	query := `
		SELECT id, user_id, COALESCE(record_id::text, ''), event_type, request_id, fields, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.runner(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox entries: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Postgres) MarkPublished(ctx context.Context, eventIDs []uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}

	ids := make([]string, len(eventIDs))
	for i, eventID := range eventIDs {
		ids[i] = eventID.String()
	}
	query := `UPDATE outbox SET published_at = now() WHERE id = ANY($1) AND published_at IS NULL`
	if _, err := s.runner(ctx).ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}

func (s *Postgres) ListByUser(ctx context.Context, userID id.UserID) ([]events.Event, error) {
	query := `
		SELECT id, user_id, COALESCE(record_id::text, ''), event_type, request_id, fields, created_at
		FROM outbox
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := s.runner(ctx).QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list outbox entries by user: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var (
			event     events.Event
			rawUser   string
			rawRecord string
			rawFields []byte
		)
		if err := rows.Scan(&event.ID, &rawUser, &rawRecord, &event.Type, &event.RequestID, &rawFields, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}

		userID, err := id.ParseUserID(rawUser)
		if err != nil {
			return nil, fmt.Errorf("parse outbox user id: %w", err)
		}
		event.UserID = userID
		if rawRecord != "" {
			recordID, err := id.ParseRecordID(rawRecord)
			if err != nil {
				return nil, fmt.Errorf("parse outbox record id: %w", err)
			}
			event.RecordID = recordID
		}
		if len(rawFields) > 0 {
			if err := json.Unmarshal(rawFields, &event.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal event fields: %w", err)
			}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
