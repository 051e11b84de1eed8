package web

import (
	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/approval"
)

type recipientJSON struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Configured  bool   `json:"configured"`
	State       string `json:"state"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	RespondedAt string `json:"respondedAt,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type bundleJSON struct {
	Recipients []recipientJSON `json:"recipients"`
	Extra      []recipientJSON `json:"extra"`
}

func mapStatusBundles(in map[uuid.UUID]approval.PermitRecipients) map[string]bundleJSON {
	out := make(map[string]bundleJSON, len(in))
	for id, bundle := range in {
		out[id.String()] = bundleJSON{
			Recipients: mapRecipients(bundle.Recipients),
			Extra:      mapRecipients(bundle.Extra),
		}
	}
	return out
}

func mapRecipients(in []approval.RecipientStatus) []recipientJSON {
	out := make([]recipientJSON, 0, len(in))
	for _, r := range in {
		j := recipientJSON{
			Name:       r.Name,
			Email:      string(r.Email),
			Configured: r.Configured,
			State:      string(r.State),
		}

		if r.ExpiresAt != nil {
			j.ExpiresAt = r.ExpiresAt.Format(timeFormat)
		}

		if r.RespondedAt != nil {
			j.RespondedAt = r.RespondedAt.Format(timeFormat)
		}

		if r.Comment != nil {
			j.Comment = *r.Comment
		}

		out = append(out, j)
	}
	return out
}
