package record

import (
	"time"

	"github.com/google/uuid"
	"github.com/kioskpay/gateway/internal/domain/errors"
)

// Provider identifies which external provider owns a payment record.
type Provider string

const (
	ProviderPayme Provider = "payme"
	ProviderClick Provider = "click"
	ProviderTest  Provider = "test"
)

// Status represents the internal payment lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusCreated  Status = "created"
	StatusSuccess  Status = "success"
	StatusCanceled Status = "canceled"
	StatusFailed   Status = "failed"
)

// Record is the single authoritative payment entity. One record exists per
// order id; the provider transaction id is unknown until the provider's
// first callback and is bound exactly once.
type Record struct {
	ID            uuid.UUID
	OrderID       string
	ProviderTxID  *string
	Amount        int64 // internal minor units (whole sums)
	Provider      Provider
	Status        Status
	ProviderState *int // last state code exchanged with the provider, audit only
	CreateTime    time.Time
	PerformTime   *time.Time
	CancelTime    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New creates a pending record for a freshly registered intent.
func New(orderID string, provider Provider, amount int64) (*Record, error) {
	if orderID == "" {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}
	if amount <= 0 {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}
	switch provider {
	case ProviderPayme, ProviderClick, ProviderTest:
	default:
		return nil, errors.NewValidationError("provider", "unknown provider")
	}

	now := time.Now().UTC()
	return &Record{
		ID:         uuid.New(),
		OrderID:    orderID,
		Amount:     amount,
		Provider:   provider,
		Status:     StatusPending,
		CreateTime: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CanTransitionTo checks whether the record may move to the given status.
// Terminal statuses never revert, with one exception: a successful payment
// may still be canceled (provider-initiated reversal).
func (r *Record) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusPending: {
			StatusCreated,
			StatusSuccess, // test/simulate path and Click complete after relabel
			StatusCanceled,
			StatusFailed,
		},
		StatusCreated: {
			StatusSuccess,
			StatusCanceled,
			StatusFailed,
		},
		StatusSuccess: {
			StatusCanceled, // cancel-after-success guard
		},
		StatusCanceled: {},
		StatusFailed:   {},
	}

	allowed, exists := transitions[r.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo moves the record to a new status, stamping the matching
// timestamp exactly once.
func (r *Record) TransitionTo(newStatus Status, at time.Time) error {
	if r.Status == newStatus {
		return nil // idempotent replay, timestamps untouched
	}
	if !r.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(r.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	r.Status = newStatus
	r.UpdatedAt = time.Now().UTC()

	switch newStatus {
	case StatusSuccess:
		if r.PerformTime == nil {
			t := at
			r.PerformTime = &t
		}
	case StatusCanceled, StatusFailed:
		if r.CancelTime == nil {
			t := at
			r.CancelTime = &t
		}
	}
	return nil
}

// IsTerminal reports whether no further transition is expected.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusSuccess ||
		r.Status == StatusCanceled ||
		r.Status == StatusFailed
}

// BindProviderTx assigns the provider transaction id if none is bound yet.
func (r *Record) BindProviderTx(txID string) error {
	if r.ProviderTxID != nil {
		if *r.ProviderTxID == txID {
			return nil
		}
		return errors.ErrTransactionBound
	}
	id := txID
	r.ProviderTxID = &id
	if r.Status == StatusPending {
		r.Status = StatusCreated
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ProviderStateOf maps an internal status to the numeric state vocabulary
// reported to providers. The mapping is evaluated at response time and never
// read back for logic.
func ProviderStateOf(s Status) int {
	switch s {
	case StatusSuccess:
		return 2
	case StatusCanceled:
		return -2
	case StatusFailed:
		return -1
	default: // pending, created
		return 1
	}
}

// MsEpoch renders a timestamp as milliseconds since epoch, 0 when unset.
func MsEpoch(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
