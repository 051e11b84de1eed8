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
	"github.com/jspaans/permitdesk/internal/permit"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, params ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, params ...any) (*sql.Rows, error)
}

func insertPermit(ctx context.Context, q db.Query, ec dbtx, p *permit.Permit, now time.Time) error {
	if p.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	p.CreatedAt = now
	p.UpdatedAt = now

	q.Unsafe(`INSERT INTO permits (id, ref, holder_name, holder_email_encrypted, status, decided_at, created_at, updated_at) VALUES (`)
	q.Params(p.ID, p.Ref, p.HolderName)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(p.HolderEmail))
	q.Unsafe(`, `)
	q.Params(p.Status, p.DecidedAt, p.CreatedAt, p.UpdatedAt)
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

func selectPermits(ctx context.Context, q db.Query, ec dbtx, f *permit.Filter) ([]permit.Permit, error) {
	q.Unsafe(`SELECT id, ref, holder_name, holder_email_encrypted, status, decided_at, created_at, updated_at FROM permits WHERE 1=1 `)

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

	out := make([]permit.Permit, 0)
	for rows.Next() {
		var p permit.Permit
		var status string
		emailBytes := q.DecryptionTarget()
		err := rows.Scan(&p.ID, &p.Ref, &p.HolderName, emailBytes, &status, &p.DecidedAt, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		p.Status, err = permit.ParseStatus(status)
		if err != nil {
			return nil, err
		}

		p.HolderEmail, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

// transitionPermitStatus is the atomic guard for permit decisions. The
// status check is part of the UPDATE statement, the returned bool is
// derived from the affected row count. Reading the current status first
// and then writing would race under concurrent decisions.
func transitionPermitStatus(ctx context.Context, q db.Query, ec dbtx, id uuid.UUID, from, to permit.Status, meta permit.TransitionMeta) (bool, error) {
	q.Unsafe(`UPDATE permits SET status = `)
	q.Param(to)

	q.Unsafe(`, decided_at = `)
	q.Param(meta.DecidedAt)

	q.Unsafe(`, updated_at = `)
	q.Param(meta.DecidedAt)

	q.Unsafe(` WHERE id = `)
	q.Param(id)

	q.Unsafe(` AND status = `)
	q.Param(from)

	s, params, err := q.Get()
	if err != nil {
		return false, err
	}

	result, err := ec.ExecContext(ctx, s, params...)
	if err != nil {
		return false, errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errorz.MapDBErr(err)
	}

	return rows == 1, nil
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
