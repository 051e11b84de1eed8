package approval

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/email"
)

// RecipientState classifies a configured recipient's position in the
// approval of one permit.
type RecipientState string

const (
	// StateQueued means no link has been issued to the recipient yet.
	StateQueued RecipientState = "queued"
	// StateAwaitingResponse means an unused, unexpired link is out.
	StateAwaitingResponse RecipientState = "awaiting_response"
	// StateExpired means the most recent link lapsed unused.
	StateExpired RecipientState = "expired"
	// StateApproved and StateRejected mean the recipient decided.
	StateApproved RecipientState = "approved"
	StateRejected RecipientState = "rejected"
)

// RecipientStatus is the per-recipient view of one permit's approval.
type RecipientStatus struct {
	Name  string
	Email email.Address
	// Configured is false for recipients that have an issued link but
	// are no longer on the configured list. Their links stay valid and
	// visible for auditing.
	Configured  bool
	State       RecipientState
	ExpiresAt   *time.Time
	RespondedAt *time.Time
	Comment     *string
}

// PermitRecipients bundles the status view for one permit.
type PermitRecipients struct {
	Recipients []RecipientStatus
	Extra      []RecipientStatus
}

// RecipientStatuses builds the per-permit recipient status view for a
// set of permits. All links are fetched in a single query and grouped
// in memory, dashboards pass many permit ids at once.
func (s *Service) RecipientStatuses(ctx context.Context, permitIDs []uuid.UUID) (map[uuid.UUID]PermitRecipients, error) {
	recipients, err := s.recipients.Recipients(ctx)
	if err != nil {
		return nil, err
	}

	links, err := s.links.FindLinks(ctx, &LinkFilter{
		PermitIDs: permitIDs,
	})
	if err != nil {
		return nil, err
	}

	// Most recent link per permit and recipient address. FindLinks
	// returns links ordered by creation time, so later entries win.
	latest := make(map[uuid.UUID]map[email.Address]Link)
	for _, link := range links {
		m, ok := latest[link.PermitID]
		if !ok {
			m = make(map[email.Address]Link)
			latest[link.PermitID] = m
		}
		m[link.RecipientEmail] = link
	}

	configured := make(map[email.Address]bool, len(recipients))
	for _, r := range recipients {
		configured[r.Email] = true
	}

	now := s.NowFunc()

	out := make(map[uuid.UUID]PermitRecipients, len(permitIDs))
	for _, id := range permitIDs {
		bundle := PermitRecipients{
			Recipients: make([]RecipientStatus, 0, len(recipients)),
			Extra:      make([]RecipientStatus, 0),
		}

		for _, r := range recipients {
			status := RecipientStatus{
				Name:       r.Name,
				Email:      r.Email,
				Configured: true,
				State:      StateQueued,
			}

			if link, ok := latest[id][r.Email]; ok {
				classifyLink(&status, link, now)
			}

			bundle.Recipients = append(bundle.Recipients, status)
		}

		// Links to addresses that are no longer configured.
		for addr, link := range latest[id] {
			if configured[addr] {
				continue
			}

			status := RecipientStatus{
				Name:       link.RecipientName,
				Email:      addr,
				Configured: false,
			}
			classifyLink(&status, link, now)

			bundle.Extra = append(bundle.Extra, status)
		}

		// Map iteration order would make the payload jitter between
		// requests.
		sort.Slice(bundle.Extra, func(i, j int) bool {
			return bundle.Extra[i].Email < bundle.Extra[j].Email
		})

		out[id] = bundle
	}

	return out, nil
}

func classifyLink(status *RecipientStatus, link Link, now time.Time) {
	expiresAt := link.ExpiresAt
	status.ExpiresAt = &expiresAt

	switch {
	case link.Used():
		status.RespondedAt = link.UsedAt
		status.Comment = link.UsedComment
		if *link.UsedAction == ActionApprove {
			status.State = StateApproved
		} else {
			status.State = StateRejected
		}
	case link.Expired(now):
		status.State = StateExpired
	default:
		status.State = StateAwaitingResponse
	}
}
