// Package permit contains the permit-to-work entity and the store
// contract used to move it through its lifecycle.
package permit

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/email"
)

// ErrInvalidStatus indicates a string is not a known permit status.
var ErrInvalidStatus = errors.New("invalid permit status")

// Status is the lifecycle status of a permit.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
	StatusClosed          Status = "closed"
)

// ParseStatus parses a status from a string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusDraft, StatusPendingApproval, StatusActive, StatusRejected, StatusExpired, StatusClosed:
		return Status(raw), nil
	}

	return Status(""), ErrInvalidStatus
}

// Permit contains the data for a permit to work.
type Permit struct {
	ID          uuid.UUID
	Ref         string
	HolderName  string
	HolderEmail email.Address
	Status      Status
	DecidedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
