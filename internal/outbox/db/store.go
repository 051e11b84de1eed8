// Package db implements the outbox store on SQLite.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/outbox"
)

// Store is responsible for interacting with the outbound_emails table.
type Store struct {
	db        *sql.DB
	encryptor *krypto.Encryptor
}

// New creates a new Store.
func New(sqlDB *sql.DB, encryptor *krypto.Encryptor) *Store {
	return &Store{
		db:        sqlDB,
		encryptor: encryptor,
	}
}

func (s *Store) newQuery() db.Query {
	return db.Query{
		Encryptor: s.encryptor,
	}
}

// CreateEmail creates an outbound email in the database.
func (s *Store) CreateEmail(ctx context.Context, e *outbox.Email) error {
	return insertEmail(ctx, s.newQuery(), s.db, e)
}

// FindEmails queries for outbound emails based on the provided filter.
func (s *Store) FindEmails(ctx context.Context, filter *outbox.EmailFilter) ([]outbox.Email, error) {
	return selectEmails(ctx, s.newQuery(), s.db, filter)
}

// ClaimPending atomically claims up to limit pending rows, see the
// outbox.Store contract.
func (s *Store) ClaimPending(ctx context.Context, limit int, claimedAt time.Time) ([]outbox.Email, error) {
	return claimPendingEmails(ctx, s.newQuery(), s.db, limit, claimedAt)
}

// MarkSent moves a claimed email to the terminal sent status.
// It returns errorz.ErrNotFound if no claimed email with the id exists.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	return markEmail(ctx, s.newQuery(), s.db, id, outbox.StatusSent, nil, &sentAt)
}

// MarkFailed moves a claimed email to the terminal failed status and
// records the transport error.
// It returns errorz.ErrNotFound if no claimed email with the id exists.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, sendErr string) error {
	return markEmail(ctx, s.newQuery(), s.db, id, outbox.StatusFailed, &sendErr, nil)
}
