// Package db implements the permit store on SQLite.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/permit"
)

// Store is responsible for interacting with the permits table.
type Store struct {
	db        *sql.DB
	encryptor *krypto.Encryptor

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// New creates a new Store.
func New(sqlDB *sql.DB, encryptor *krypto.Encryptor) *Store {
	return &Store{
		db:        sqlDB,
		encryptor: encryptor,
		NowFunc:   time.Now,
	}
}

func (s *Store) newQuery() db.Query {
	return db.Query{
		Encryptor: s.encryptor,
	}
}

// CreatePermit creates a permit in the database.
// It sets the CreatedAt and UpdatedAt fields when successful.
func (s *Store) CreatePermit(ctx context.Context, p *permit.Permit) error {
	return insertPermit(ctx, s.newQuery(), s.db, p, s.NowFunc())
}

// FindPermits queries for permits based on the provided filter.
// It returns an empty slice if no permits are found.
func (s *Store) FindPermits(ctx context.Context, filter *permit.Filter) ([]permit.Permit, error) {
	return selectPermits(ctx, s.newQuery(), s.db, filter)
}

// TransitionStatus conditionally moves a permit between statuses, see
// the permit.Store contract.
func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to permit.Status, meta permit.TransitionMeta) (bool, error) {
	return transitionPermitStatus(ctx, s.newQuery(), s.db, id, from, to, meta)
}
