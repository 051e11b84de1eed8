package web

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/approval"
	"github.com/jspaans/permitdesk/internal/errorz"
	"github.com/jspaans/permitdesk/internal/krypto"
)

type tokenInput struct {
	Token krypto.Token `schema:"token"`
}

type decisionInput struct {
	Token   krypto.Token `schema:"token"`
	Action  string       `schema:"action"`
	Comment string       `schema:"comment"`
}

type previewJSON struct {
	PermitRef     string `json:"permitRef"`
	HolderName    string `json:"holderName"`
	RecipientName string `json:"recipientName"`
	State         string `json:"state"`
	UsedAction    string `json:"usedAction,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

type decisionJSON struct {
	PermitRef string `json:"permitRef"`
	Action    string `json:"action"`
	Comment   string `json:"comment,omitempty"`
}

func (s *Server) previewDecision(w http.ResponseWriter, r *http.Request) {
	var in tokenInput
	if err := s.decoder.Decode(&in, r.URL.Query()); err != nil {
		s.handleError(w, r, krypto.ErrInvalidToken)
		return
	}

	preview, err := s.deps.Approvals.Preview(r.Context(), in.Token)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	out := previewJSON{
		PermitRef:     preview.Permit.Ref,
		HolderName:    preview.Permit.HolderName,
		RecipientName: preview.Link.RecipientName,
		State:         "open",
	}

	switch {
	case preview.Link.Used():
		out.State = "used"
		out.UsedAction = string(*preview.Link.UsedAction)
	case preview.Link.Expired(s.deps.Approvals.NowFunc()):
		out.State = "expired"
	default:
		out.ExpiresAt = preview.Link.ExpiresAt.Format(timeFormat)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) submitDecision(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.handleError(w, r, err)
		return
	}

	var in decisionInput
	if err := s.decoder.Decode(&in, r.PostForm); err != nil {
		s.handleError(w, r, krypto.ErrInvalidToken)
		return
	}

	result, err := s.deps.Approvals.Decide(r.Context(), approval.DecisionRequest{
		Token:     in.Token,
		Action:    in.Action,
		Comment:   in.Comment,
		IP:        remoteIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, decisionJSON{
		PermitRef: result.PermitRef,
		Action:    string(result.Action),
		Comment:   result.Comment,
	})
}

type statusInput struct {
	IDs string `schema:"ids"`
}

func (s *Server) permitStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.AuthorizeStatus == nil || !s.deps.AuthorizeStatus(r) {
		s.writeError(w, http.StatusForbidden, "You are not allowed to view permit statuses.")
		return
	}

	var in statusInput
	if err := s.decoder.Decode(&in, r.URL.Query()); err != nil {
		s.handleError(w, r, err)
		return
	}

	ids := make([]uuid.UUID, 0)
	var invalidInput errorz.InvalidInput
	for _, raw := range strings.Split(in.IDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			invalidInput = append(invalidInput, errorz.Keyed{
				Key: raw,
				Err: err,
			})
			continue
		}

		ids = append(ids, id)
	}

	if len(invalidInput) > 0 {
		s.handleError(w, r, invalidInput)
		return
	}

	bundles, err := s.deps.Approvals.RecipientStatuses(r.Context(), ids)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, mapStatusBundles(bundles))
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

// handleError translates pipeline errors to friendly responses. Unknown
// and garbled tokens share one message so the endpoint never confirms
// whether some other token exists.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidInput errorz.InvalidInput

	switch {
	case errors.As(err, &invalidInput):
		s.writeError(w, http.StatusBadRequest, "Invalid permit ids provided.")
	case errors.Is(err, krypto.ErrInvalidToken), errors.Is(err, approval.ErrTokenNotFound):
		s.writeError(w, http.StatusNotFound, "This approval link is not recognized.")
	case errors.Is(err, approval.ErrTokenExpired):
		s.writeError(w, http.StatusGone, "This approval link has expired. Ask for a new one if the permit still needs a decision.")
	case errors.Is(err, approval.ErrTokenAlreadyUsed):
		s.writeError(w, http.StatusGone, "This approval link has already been used.")
	case errors.Is(err, approval.ErrPermitNotPending):
		s.writeError(w, http.StatusConflict, "A decision has already been made for this permit.")
	case errors.Is(err, approval.ErrInvalidAction):
		s.writeError(w, http.StatusBadRequest, "Unknown action, use approve or reject.")
	default:
		s.deps.Logger.Error("internal server error",
			"error", err,
			"method", r.Method,
			"url", r.URL.String(),
		)
		s.writeError(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
