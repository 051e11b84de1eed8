package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/email"
	"github.com/jspaans/permitdesk/internal/krypto"
)

// LinkFilter is used to filter approval links.
// Returned links must match all the provided fields.
// If a field is empty or nil, it's ignored.
type LinkFilter struct {
	PermitIDs []uuid.UUID
	IsUsed    *bool
}

// RedeemRequest carries everything recorded when a link is redeemed.
type RedeemRequest struct {
	Token     krypto.Token
	Action    Action
	Comment   string
	IP        string
	UserAgent string
	UsedAt    time.Time
}

// Store provides access to the approval link store.
type Store interface {
	// CreateLink persists a new unused link for the given token.
	// Implementations must not store the plaintext token.
	CreateLink(ctx context.Context, link *Link, token krypto.Token) error

	// FindLinkByToken returns the link the token belongs to, or
	// errorz.ErrNotFound.
	FindLinkByToken(ctx context.Context, token krypto.Token) (Link, error)

	// FindLinks queries for links based on the provided filter.
	FindLinks(ctx context.Context, filter *LinkFilter) ([]Link, error)

	// RedeemLink marks the link as used and records the decision, it
	// reports whether a row was actually changed. The update must be
	// conditional on the link being unused so that concurrent redeems
	// of the same token succeed for at most one caller. Reading the
	// link and then writing is not an acceptable implementation.
	RedeemLink(ctx context.Context, req RedeemRequest) (bool, error)
}

// Recipient is a configured recipient of approval requests.
type Recipient struct {
	ID    uuid.UUID
	Name  string
	Email email.Address
}

// RecipientSource provides the configured recipient list. Managing that
// list is somebody else's job, this package only reads it.
type RecipientSource interface {
	Recipients(ctx context.Context) ([]Recipient, error)
}

// StaticSource is a RecipientSource backed by a fixed slice.
type StaticSource []Recipient

func (s StaticSource) Recipients(_ context.Context) ([]Recipient, error) {
	return s, nil
}
