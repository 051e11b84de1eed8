package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jspaans/permitdesk/internal/email"
)

// Queue is the producer side of the outbox.
type Queue struct {
	store Store

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewQueue creates a new Queue on top of the provided store.
func NewQueue(store Store) *Queue {
	return &Queue{
		store:   store,
		NowFunc: time.Now,
	}
}

// Enqueue inserts a pending email row and returns its id. It never
// sends anything itself.
func (q *Queue) Enqueue(ctx context.Context, to email.Address, subject, htmlBody, textBody string) (uuid.UUID, error) {
	e := Email{
		ID:        uuid.New(),
		To:        to,
		Subject:   subject,
		HTMLBody:  htmlBody,
		TextBody:  textBody,
		Status:    StatusPending,
		CreatedAt: q.NowFunc(),
	}

	err := q.store.CreateEmail(ctx, &e)
	if err != nil {
		return uuid.Nil, err
	}

	return e.ID, nil
}
