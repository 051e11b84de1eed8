package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/approval"
	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/errorz"
	"github.com/jspaans/permitdesk/internal/krypto"
)

const linkColumns = `id, permit_id, recipient_name, recipient_email_encrypted, created_at, expires_at, used_at, used_action, used_comment, used_ip, used_user_agent`

type dbtx interface {
	ExecContext(ctx context.Context, query string, params ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, params ...any) (*sql.Rows, error)
}

func insertLink(ctx context.Context, q db.Query, ec dbtx, link *approval.Link, token krypto.Token) error {
	if link.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO approval_links (id, token_hash, permit_id, recipient_name, recipient_email_encrypted, created_at, expires_at, used_at, used_action, used_comment, used_ip, used_user_agent) VALUES (`)
	q.Param(link.ID)
	q.Unsafe(`, `)
	q.ParamBlindIndex(token[:])
	q.Unsafe(`, `)
	q.Params(link.PermitID, link.RecipientName)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(link.RecipientEmail))
	q.Unsafe(`, `)
	q.Params(link.CreatedAt, link.ExpiresAt, link.UsedAt, link.UsedAction, link.UsedComment, link.UsedIP, link.UsedUserAgent)
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

func selectLinkByToken(ctx context.Context, q db.Query, ec dbtx, token krypto.Token) (approval.Link, error) {
	q.Unsafe(`SELECT ` + linkColumns + ` FROM approval_links WHERE token_hash = `)
	q.ParamBlindIndex(token[:])

	s, params, err := q.Get()
	if err != nil {
		return approval.Link{}, err
	}

	rows, err := ec.QueryContext(ctx, s, params...)
	if err != nil {
		return approval.Link{}, errorz.MapDBErr(err)
	}

	defer rows.Close()

	links, err := scanLinks(q, rows)
	if err != nil {
		return approval.Link{}, err
	}

	if len(links) != 1 {
		return approval.Link{}, errorz.ErrNotFound
	}

	return links[0], nil
}

func selectLinks(ctx context.Context, q db.Query, ec dbtx, f *approval.LinkFilter) ([]approval.Link, error) {
	q.Unsafe(`SELECT ` + linkColumns + ` FROM approval_links WHERE 1=1 `)

	if len(f.PermitIDs) > 0 {
		q.Unsafe(`AND permit_id IN (`)
		q.Params(anySlice(f.PermitIDs)...)
		q.Unsafe(`) `)
	}

	if f.IsUsed != nil {
		q.Unsafe("AND used_at IS ")
		if *f.IsUsed {
			q.Unsafe("NOT ")
		}
		q.Unsafe("NULL ")
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

	return scanLinks(q, rows)
}

// redeemLink is the single write that matters. The used_at IS NULL
// condition is part of the UPDATE statement, two concurrent redeems of
// the same token change at most one row between them. Reading the link
// first and then writing would race.
func redeemLink(ctx context.Context, q db.Query, ec dbtx, req approval.RedeemRequest) (bool, error) {
	q.Unsafe(`UPDATE approval_links SET used_at = `)
	q.Param(req.UsedAt)

	q.Unsafe(`, used_action = `)
	q.Param(req.Action)

	q.Unsafe(`, used_comment = `)
	q.Param(req.Comment)

	q.Unsafe(`, used_ip = `)
	q.Param(req.IP)

	q.Unsafe(`, used_user_agent = `)
	q.Param(req.UserAgent)

	q.Unsafe(` WHERE token_hash = `)
	q.ParamBlindIndex(req.Token[:])

	q.Unsafe(` AND used_at IS NULL`)

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

func insertRecipient(ctx context.Context, q db.Query, ec dbtx, r *approval.Recipient) error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO recipients (id, name, email_encrypted, created_at) VALUES (`)
	q.Params(r.ID, r.Name)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(r.Email))
	q.Unsafe(`, `)
	q.Param(time.Now())
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

func selectRecipients(ctx context.Context, q db.Query, ec dbtx) ([]approval.Recipient, error) {
	q.Unsafe(`SELECT id, name, email_encrypted FROM recipients ORDER BY created_at ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := ec.QueryContext(ctx, s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]approval.Recipient, 0)
	for rows.Next() {
		var r approval.Recipient
		emailBytes := q.DecryptionTarget()
		err := rows.Scan(&r.ID, &r.Name, emailBytes)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		r.Email, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func scanLinks(q db.Query, rows *sql.Rows) ([]approval.Link, error) {
	out := make([]approval.Link, 0)
	for rows.Next() {
		var link approval.Link
		var action *string
		emailBytes := q.DecryptionTarget()
		err := rows.Scan(&link.ID, &link.PermitID, &link.RecipientName, emailBytes, &link.CreatedAt, &link.ExpiresAt, &link.UsedAt, &action, &link.UsedComment, &link.UsedIP, &link.UsedUserAgent)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		if action != nil {
			parsed, err := approval.ParseAction(*action)
			if err != nil {
				return nil, err
			}
			link.UsedAction = &parsed
		}

		link.RecipientEmail, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		out = append(out, link)
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
