package approval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/errorz"
	"github.com/jspaans/permitdesk/internal/krypto"
	"github.com/jspaans/permitdesk/internal/outbox"
	"github.com/jspaans/permitdesk/internal/permit"
)

// The validation failures of the decision pipeline. These are surfaced
// to the approver with a friendly message, they are never retried.
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrPermitNotFound   = errors.New("permit not found")
	ErrPermitNotPending = errors.New("permit is not pending approval")
)

// ServiceConfig is the configuration for the Service.
type ServiceConfig struct {
	// TokenTTL is the duration an approval link stays valid. Expiry is
	// fixed at issuance.
	TokenTTL time.Duration
	// ApprovalURL is the public URL of the approval page, the link
	// token is appended as a query parameter.
	ApprovalURL *url.URL
}

// Service provides the main rules for issuing and deciding approval
// links.
type Service struct {
	links      Store
	permits    permit.Store
	recipients RecipientSource
	queue      *outbox.Queue
	cfg        ServiceConfig

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewService creates a new Service.
func NewService(links Store, permits permit.Store, recipients RecipientSource, queue *outbox.Queue, cfg ServiceConfig) *Service {
	return &Service{
		links:      links,
		permits:    permits,
		recipients: recipients,
		queue:      queue,
		cfg:        cfg,
		NowFunc:    time.Now,
	}
}

// IssueLinks issues a fresh approval link for every configured
// recipient of the pending permit and queues the approval-request email
// for each of them.
func (s *Service) IssueLinks(ctx context.Context, permitID uuid.UUID) ([]Link, error) {
	p, err := s.getPermit(ctx, permitID)
	if err != nil {
		return nil, err
	}

	if p.Status != permit.StatusPendingApproval {
		return nil, ErrPermitNotPending
	}

	recipients, err := s.recipients.Recipients(ctx)
	if err != nil {
		return nil, err
	}

	now := s.NowFunc()

	links := make([]Link, 0, len(recipients))
	for _, r := range recipients {
		token, err := krypto.GenerateToken()
		if err != nil {
			return nil, err
		}

		link := Link{
			ID:             uuid.New(),
			PermitID:       p.ID,
			RecipientName:  r.Name,
			RecipientEmail: r.Email,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.cfg.TokenTTL),
		}

		err = s.links.CreateLink(ctx, &link, token)
		if err != nil {
			return nil, err
		}

		// The token leaves the system exactly once, inside this email.
		_, err = s.queue.Enqueue(ctx, r.Email,
			fmt.Sprintf("Approval requested for permit %s", p.Ref),
			requestHTMLBody(p, r.Name, s.approvalURL(token)),
			requestTextBody(p, r.Name, s.approvalURL(token)),
		)
		if err != nil {
			return nil, err
		}

		links = append(links, link)
	}

	return links, nil
}

// Preview contains everything the approval page needs to render the
// read-only state of a link.
type Preview struct {
	Link   Link
	Permit permit.Permit
}

// Preview looks up the link and its permit without redeeming anything.
// It returns ErrTokenNotFound for unknown tokens.
func (s *Service) Preview(ctx context.Context, token krypto.Token) (Preview, error) {
	link, err := s.links.FindLinkByToken(ctx, token)
	if err != nil {
		if errors.Is(err, errorz.ErrNotFound) {
			return Preview{}, ErrTokenNotFound
		}
		return Preview{}, err
	}

	p, err := s.getPermit(ctx, link.PermitID)
	if err != nil {
		return Preview{}, err
	}

	return Preview{
		Link:   link,
		Permit: p,
	}, nil
}

// DecisionRequest is a submitted approval decision.
type DecisionRequest struct {
	Token     krypto.Token
	Action    string
	Comment   string
	IP        string
	UserAgent string
}

// DecisionResult is returned when a decision was applied.
type DecisionResult struct {
	PermitRef string
	Action    Action
	Comment   string
}

// Decide validates and applies an approval decision.
//
// The token is redeemed first under its own atomic guard, then the
// permit transition runs under a second guard conditional on the permit
// still being pending. When the transition loses to a decision through
// another link, the token stays consumed and ErrPermitNotPending is
// returned; a consumed token whose permit was already decided carries
// no residual capability.
func (s *Service) Decide(ctx context.Context, req DecisionRequest) (DecisionResult, error) {
	action, err := ParseAction(req.Action)
	if err != nil {
		return DecisionResult{}, err
	}

	link, err := s.links.FindLinkByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, errorz.ErrNotFound) {
			return DecisionResult{}, ErrTokenNotFound
		}
		return DecisionResult{}, err
	}

	now := s.NowFunc()

	// Expiry wins over everything else, an expired token is reported as
	// expired even when it's still unused, and is never consumed.
	if link.Expired(now) {
		return DecisionResult{}, ErrTokenExpired
	}

	redeemed, err := s.links.RedeemLink(ctx, RedeemRequest{
		Token:     req.Token,
		Action:    action,
		Comment:   req.Comment,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		UsedAt:    now,
	})
	if err != nil {
		return DecisionResult{}, err
	}

	if !redeemed {
		return DecisionResult{}, ErrTokenAlreadyUsed
	}

	p, err := s.getPermit(ctx, link.PermitID)
	if err != nil {
		return DecisionResult{}, err
	}

	target := permit.StatusActive
	if action == ActionReject {
		target = permit.StatusRejected
	}

	changed, err := s.permits.TransitionStatus(ctx, p.ID, permit.StatusPendingApproval, target, permit.TransitionMeta{
		DecidedAt: now,
	})
	if err != nil {
		return DecisionResult{}, err
	}

	if !changed {
		return DecisionResult{}, ErrPermitNotPending
	}

	_, err = s.queue.Enqueue(ctx, p.HolderEmail,
		outcomeSubject(p, action),
		outcomeHTMLBody(p, link, action, req.Comment),
		outcomeTextBody(p, link, action, req.Comment),
	)
	if err != nil {
		return DecisionResult{}, err
	}

	return DecisionResult{
		PermitRef: p.Ref,
		Action:    action,
		Comment:   req.Comment,
	}, nil
}

func (s *Service) getPermit(ctx context.Context, id uuid.UUID) (permit.Permit, error) {
	permits, err := s.permits.FindPermits(ctx, &permit.Filter{
		IDs: []uuid.UUID{id},
	})
	if err != nil {
		return permit.Permit{}, err
	}

	if len(permits) != 1 {
		return permit.Permit{}, ErrPermitNotFound
	}

	return permits[0], nil
}

func (s *Service) approvalURL(token krypto.Token) string {
	u := *s.cfg.ApprovalURL
	q := u.Query()
	q.Set("token", token.String())
	u.RawQuery = q.Encode()
	return u.String()
}
