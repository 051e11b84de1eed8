package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/errorz"
	"github.com/jspaans/permitdesk/internal/outbox"
)

const emailColumns = `id, to_encrypted, subject, html_body, text_body, status, error, created_at, claimed_at, sent_at`

type dbtx interface {
	ExecContext(ctx context.Context, query string, params ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, params ...any) (*sql.Rows, error)
}

func insertEmail(ctx context.Context, q db.Query, ec dbtx, e *outbox.Email) error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO outbound_emails (` + emailColumns + `) VALUES (`)
	q.Param(e.ID)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(e.To))
	q.Unsafe(`, `)
	q.Params(e.Subject, e.HTMLBody, e.TextBody, e.Status, e.Error, e.CreatedAt, e.ClaimedAt, e.SentAt)
	q.Unsafe(`)`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	_, err = ec.ExecContext(ctx, s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func selectEmails(ctx context.Context, q db.Query, ec dbtx, f *outbox.EmailFilter) ([]outbox.Email, error) {
	q.Unsafe(`SELECT ` + emailColumns + ` FROM outbound_emails WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if len(f.Statuses) > 0 {
		q.Unsafe(`AND status IN (`)
		q.Params(anySlice(f.Statuses)...)
		q.Unsafe(`) `)
	}

	q.Unsafe(`ORDER BY created_at ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := ec.QueryContext(ctx, s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	return scanEmails(q, rows)
}

// claimPendingEmails flips pending rows to sending and returns only the
// rows it flipped, in one statement. This is the claim step that keeps
// two concurrent drains from sending the same email.
func claimPendingEmails(ctx context.Context, q db.Query, ec dbtx, limit int, claimedAt time.Time) ([]outbox.Email, error) {
	q.Unsafe(`UPDATE outbound_emails SET status = `)
	q.Param(outbox.StatusSending)

	q.Unsafe(`, claimed_at = `)
	q.Param(claimedAt)

	q.Unsafe(` WHERE status = `)
	q.Param(outbox.StatusPending)

	q.Unsafe(` AND id IN (SELECT id FROM outbound_emails WHERE status = `)
	q.Param(outbox.StatusPending)

	q.Unsafe(` ORDER BY created_at ASC LIMIT `)
	q.Param(limit)

	q.Unsafe(`) RETURNING ` + emailColumns)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := ec.QueryContext(ctx, s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	return scanEmails(q, rows)
}

func markEmail(ctx context.Context, q db.Query, ec dbtx, id uuid.UUID, to outbox.Status, sendErr *string, sentAt *time.Time) error {
	q.Unsafe(`UPDATE outbound_emails SET status = `)
	q.Param(to)

	q.Unsafe(`, error = `)
	q.Param(sendErr)

	q.Unsafe(`, sent_at = `)
	q.Param(sentAt)

	q.Unsafe(` WHERE id = `)
	q.Param(id)

	q.Unsafe(` AND status = `)
	q.Param(outbox.StatusSending)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ec.ExecContext(ctx, s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("claimed email not found: %w", errorz.ErrNotFound)
	}

	return nil
}

func scanEmails(q db.Query, rows *sql.Rows) ([]outbox.Email, error) {
	out := make([]outbox.Email, 0)
	for rows.Next() {
		var e outbox.Email
		var status string
		toBytes := q.DecryptionTarget()
		err := rows.Scan(&e.ID, toBytes, &e.Subject, &e.HTMLBody, &e.TextBody, &status, &e.Error, &e.CreatedAt, &e.ClaimedAt, &e.SentAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		e.Status, err = outbox.ParseStatus(status)
		if err != nil {
			return nil, err
		}

		e.To, err = email.ParseAddress(string(toBytes.Data))
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
