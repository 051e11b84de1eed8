package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jspaans/permitdesk/internal/email"
)

// Report is the aggregate result of one drain pass.
type Report struct {
	Processed int
	Sent      int
	Failed    int
	Errors    []string
}

// Processor drains the outbox through an email sender.
type Processor struct {
	store  Store
	sender email.Sender
	from   email.Address
	logger *slog.Logger

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewProcessor creates a new Processor. Emails are sent from the
// provided from address.
func NewProcessor(store Store, sender email.Sender, from email.Address, logger *slog.Logger) *Processor {
	return &Processor{
		store:   store,
		sender:  sender,
		from:    from,
		logger:  logger,
		NowFunc: time.Now,
	}
}

// Process claims up to limit pending emails and attempts to send each of
// them. A transport failure marks that row failed and moves on to the
// next row, it never aborts the rest of the batch. Rows marked sent or
// failed are terminal and will not be picked up by a later pass.
//
// An error is only returned when the store itself fails. The returned
// report covers the rows handled up to that point.
func (p *Processor) Process(ctx context.Context, limit int) (Report, error) {
	var report Report

	emails, err := p.store.ClaimPending(ctx, limit, p.NowFunc())
	if err != nil {
		return report, fmt.Errorf("failed to claim pending emails: %w", err)
	}

	for _, e := range emails {
		report.Processed++

		sendErr := p.sender.Send(ctx, email.Message{
			From:     p.from,
			To:       e.To,
			Subject:  e.Subject,
			HTMLBody: e.HTMLBody,
			TextBody: e.TextBody,
		})
		if sendErr != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", e.ID, sendErr))

			p.logger.Error("failed to send queued email",
				"id", e.ID,
				"subject", e.Subject,
				"error", sendErr,
			)

			err = p.store.MarkFailed(ctx, e.ID, sendErr.Error())
			if err != nil {
				return report, fmt.Errorf("failed to mark email %s failed: %w", e.ID, err)
			}

			continue
		}

		report.Sent++

		err = p.store.MarkSent(ctx, e.ID, p.NowFunc())
		if err != nil {
			return report, fmt.Errorf("failed to mark email %s sent: %w", e.ID, err)
		}
	}

	return report, nil
}
