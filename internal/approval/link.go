// Package approval implements the approval decision pipeline: issuing
// single-use approval links, redeeming them exactly once, moving the
// permit to its decided status and queueing the outcome notification.
package approval

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/email"
)

// ErrInvalidAction indicates a string is not a known decision action.
var ErrInvalidAction = errors.New("invalid action")

// Action is the decision an approver makes on a permit.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction parses an action from a string. Anything other than the
// two known actions is rejected before it ever reaches storage.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionApprove, ActionReject:
		return Action(raw), nil
	}

	return Action(""), ErrInvalidAction
}

// Link is a single-use, time-limited approval link issued to a
// recipient for one specific permit.
//
// A link is immutable after issuance except for the one used_* transition
// applied by Store.RedeemLink. The plaintext token is not part of the
// link, it only exists in the email sent to the recipient.
type Link struct {
	ID             uuid.UUID
	PermitID       uuid.UUID
	RecipientName  string
	RecipientEmail email.Address
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UsedAt         *time.Time
	UsedAction     *Action
	UsedComment    *string
	UsedIP         *string
	UsedUserAgent  *string
}

// Used reports whether the link has been redeemed.
func (l Link) Used() bool {
	return l.UsedAt != nil
}

// Expired reports whether the link is past its expiry at the given time.
// Expiry is fixed at issuance and evaluated at decision time.
func (l Link) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
