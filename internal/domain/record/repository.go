package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment record persistence.
//
// Mutations that close race windows (binding a provider transaction id,
// progressing to a terminal status) are expressed as single conditional
// updates rather than read-then-write pairs; concurrent duplicate callbacks
// resolve through the store's uniqueness constraints, never through
// cross-request locks.
type Repository interface {
	// Create inserts a new record. Fails with errors.ErrDuplicateOrder if a
	// record for the same order id already exists.
	Create(ctx context.Context, r *Record) error

	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByOrderID(ctx context.Context, orderID string) (*Record, error)
	GetByProviderTxID(ctx context.Context, txID string) (*Record, error)

	// BindProviderTx atomically binds txID to the order's record if no
	// transaction id is bound yet (update-if-absent) and advances
	// pending->created. If the record already carries the same txID the
	// stored record is returned unchanged (idempotent replay). Returns
	// errors.ErrOrderNotFound when the order has no record, and
	// errors.ErrTransactionBound when a different transaction id is bound.
	BindProviderTx(ctx context.Context, orderID, txID string) (*Record, error)

	// SetPerformed transitions the record to success, stamping PerformTime
	// exactly once. Calling it on an already successful record returns the
	// stored record without touching timestamps.
	SetPerformed(ctx context.Context, id uuid.UUID, at time.Time) (*Record, error)

	// SetCanceled transitions to canceled, stamping CancelTime exactly once.
	// Succeeds idempotently on records that are already canceled or failed.
	SetCanceled(ctx context.Context, id uuid.UUID, at time.Time) (*Record, error)

	// SetFailed transitions to failed, stamping CancelTime exactly once.
	SetFailed(ctx context.Context, id uuid.UUID, at time.Time) (*Record, error)

	// CorrectAmount overwrites the stored amount. The correction is ignored
	// once the record has reached success.
	CorrectAmount(ctx context.Context, id uuid.UUID, amount int64) (*Record, error)

	// Relabel reassigns the owning provider (defensive reconciliation for
	// records pre-created under an ambiguous provider kind).
	Relabel(ctx context.Context, id uuid.UUID, provider Provider) error

	// SetProviderState stores the last state code exchanged with the
	// provider. Audit only.
	SetProviderState(ctx context.Context, id uuid.UUID, state int) error

	List(ctx context.Context, filter ListFilter) ([]*Record, int, error)

	// ListCreatedBetween returns records whose CreateTime falls inside the
	// inclusive window, newest first.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*Record, error)

	Stats(ctx context.Context) (*Stats, error)

	// AddEvent appends an audit event for a record.
	AddEvent(ctx context.Context, event *Event) error

	GetEvents(ctx context.Context, recordID uuid.UUID) ([]*Event, error)
}

// ListFilter defines filters for listing records.
type ListFilter struct {
	Status   *Status
	Provider *Provider
	Limit    int
	Offset   int
}

// Stats aggregates record counts and settled revenue.
type Stats struct {
	Total    int64
	Success  int64
	Pending  int64
	Canceled int64
	Failed   int64
	Revenue  int64 // sum of amounts over successful records
}

// Event is an append-only audit entry for a record. Idempotent callback
// replays append no event.
type Event struct {
	ID        uuid.UUID
	RecordID  uuid.UUID
	EventType string
	EventData map[string]any
	CreatedAt time.Time
}
