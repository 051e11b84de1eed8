// Package db implements the approval link store and the recipient
// config read path on SQLite.
package db

import (
	"context"
	"database/sql"

	"github.com/jspaans/permitdesk/internal/approval"
	"github.com/jspaans/permitdesk/internal/db"
	"github.com/jspaans/permitdesk/internal/krypto"
)

// Store is responsible for interacting with the approval_links and
// recipients tables.
//
// Plaintext tokens never touch the database. The lookup column is a
// deterministic keyed hash of the token, so a database leak exposes no
// usable links and lookups never compare secrets directly.
type Store struct {
	db            *sql.DB
	encryptor     *krypto.Encryptor
	tokenIndexKey krypto.Key
}

// New creates a new Store.
func New(sqlDB *sql.DB, encryptor *krypto.Encryptor, tokenIndexKey krypto.Key) *Store {
	return &Store{
		db:            sqlDB,
		encryptor:     encryptor,
		tokenIndexKey: tokenIndexKey,
	}
}

func (s *Store) newQuery() db.Query {
	return db.Query{
		Encryptor:     s.encryptor,
		BlindIndexKey: s.tokenIndexKey,
	}
}

// CreateLink creates an approval link in the database, keyed by the
// token's blind index.
func (s *Store) CreateLink(ctx context.Context, link *approval.Link, token krypto.Token) error {
	return insertLink(ctx, s.newQuery(), s.db, link, token)
}

// FindLinkByToken returns the link belonging to the token.
// It returns errorz.ErrNotFound if the token is not known.
func (s *Store) FindLinkByToken(ctx context.Context, token krypto.Token) (approval.Link, error) {
	return selectLinkByToken(ctx, s.newQuery(), s.db, token)
}

// FindLinks queries for links based on the provided filter.
func (s *Store) FindLinks(ctx context.Context, filter *approval.LinkFilter) ([]approval.Link, error) {
	return selectLinks(ctx, s.newQuery(), s.db, filter)
}

// RedeemLink atomically marks the link as used, see the approval.Store
// contract.
func (s *Store) RedeemLink(ctx context.Context, req approval.RedeemRequest) (bool, error) {
	return redeemLink(ctx, s.newQuery(), s.db, req)
}

// Recipients returns the configured recipient list.
func (s *Store) Recipients(ctx context.Context) ([]approval.Recipient, error) {
	return selectRecipients(ctx, s.newQuery(), s.db)
}

// CreateRecipient adds a configured recipient. The admin UI that
// manages recipients lives elsewhere, this exists for provisioning and
// tests.
func (s *Store) CreateRecipient(ctx context.Context, r *approval.Recipient) error {
	return insertRecipient(ctx, s.newQuery(), s.db, r)
}
