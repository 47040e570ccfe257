package controller

import (
	"time"

	"github.com/kioskpay/gateway/internal/domain/record"
)

// --- Request DTOs ---
// DTOs handle HTTP/JSON concerns (string IDs, validation tags). Controllers
// convert these before calling the services.

// CreateIntentRequest holds the input for registering a payment intent.
type CreateIntentRequest struct {
	OrderID  string `json:"order_id" validate:"required,max=64"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Provider string `json:"provider" validate:"required,oneof=payme click test"`
}

// SimulateRequest holds the optional input for the simulate hook.
type SimulateRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

// --- Response DTOs ---

// IntentResponse is returned from intent registration.
type IntentResponse struct {
	OrderID     string `json:"order_id"`
	RecordID    string `json:"record_id"`
	Status      string `json:"status"`
	Provider    string `json:"provider"`
	Amount      int64  `json:"amount"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// RecordResponse represents a payment record in the admin API.
type RecordResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	Amount        int64      `json:"amount"`
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	State         int        `json:"state"`
	CreateTime    time.Time  `json:"create_time"`
	PerformTime   *time.Time `json:"perform_time,omitempty"`
	CancelTime    *time.Time `json:"cancel_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ListRecordsResponse is a page of records with the total count.
type ListRecordsResponse struct {
	Records []*RecordResponse `json:"records"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// StatsResponse is the aggregate dashboard payload.
type StatsResponse struct {
	Total    int64 `json:"total"`
	Success  int64 `json:"success"`
	Pending  int64 `json:"pending"`
	Canceled int64 `json:"canceled"`
	Failed   int64 `json:"failed"`
	Revenue  int64 `json:"revenue"`
}

// EventResponse represents one audit trail entry.
type EventResponse struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromRecord converts a domain record to its admin API shape.
func FromRecord(rec *record.Record) *RecordResponse {
	return &RecordResponse{
		ID:            rec.ID.String(),
		OrderID:       rec.OrderID,
		TransactionID: rec.ProviderTxID,
		Amount:        rec.Amount,
		Provider:      string(rec.Provider),
		Status:        string(rec.Status),
		State:         record.ProviderStateOf(rec.Status),
		CreateTime:    rec.CreateTime,
		PerformTime:   rec.PerformTime,
		CancelTime:    rec.CancelTime,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// FromEvent converts a domain event to its admin API shape.
func FromEvent(e *record.Event) *EventResponse {
	return &EventResponse{
		ID:        e.ID.String(),
		EventType: e.EventType,
		EventData: e.EventData,
		CreatedAt: e.CreatedAt,
	}
}
