// Package outbox is the durable queue for outgoing notification emails.
// Producers enqueue rows instead of sending synchronously, a crash after
// "decision recorded" still leaves the notification queued. An external
// scheduler drains the queue through the Processor.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/email"
)

// ErrInvalidStatus indicates a string is not a known outbox status.
var ErrInvalidStatus = errors.New("invalid outbox status")

// Status is the delivery status of an outbound email.
//
// pending rows are eligible for a drain. sending is the claimed state, a
// drain flips rows to sending before touching the transport so a second
// concurrent drain can't pick them up. sent and failed are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ParseStatus parses a status from a string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusSending, StatusSent, StatusFailed:
		return Status(raw), nil
	}

	return Status(""), ErrInvalidStatus
}

// Email is a single queued outbound email.
type Email struct {
	ID        uuid.UUID
	To        email.Address
	Subject   string
	HTMLBody  string
	TextBody  string
	Status    Status
	Error     *string
	CreatedAt time.Time
	ClaimedAt *time.Time
	SentAt    *time.Time
}

// EmailFilter is used to filter outbound emails.
// Returned emails must match all the provided fields.
// If a field is empty or nil, it's ignored.
type EmailFilter struct {
	IDs      []uuid.UUID
	Statuses []Status
}

// Store provides access to the outbound email store.
type Store interface {
	CreateEmail(ctx context.Context, e *Email) error
	FindEmails(ctx context.Context, filter *EmailFilter) ([]Email, error)

	// ClaimPending atomically moves up to limit pending rows to the
	// sending status and returns exactly the rows it moved. Two
	// concurrent callers partition the queue, no row is returned to
	// both.
	ClaimPending(ctx context.Context, limit int, claimedAt time.Time) ([]Email, error)

	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, sendErr string) error
}
