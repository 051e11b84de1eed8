package permit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter is used to filter permits.
// Returned permits must match all the provided fields.
// If a field is empty or nil, it's ignored.
type Filter struct {
	IDs      []uuid.UUID
	Statuses []Status
}

// TransitionMeta is audit metadata recorded alongside a status transition.
type TransitionMeta struct {
	DecidedAt time.Time
}

// Store provides access to the permit store.
type Store interface {
	CreatePermit(ctx context.Context, p *Permit) error
	FindPermits(ctx context.Context, filter *Filter) ([]Permit, error)

	// TransitionStatus moves the permit with the given id from one
	// status to another. The update is conditional on the permit
	// currently having the from status, it reports whether a row was
	// actually changed. Losing a race to another transition is not an
	// error, it's reported as false.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, meta TransitionMeta) (bool, error)
}
