package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/rs/zerolog/log"
)

// PaymeMethod is the closed set of callback methods the Payme merchant API
// dispatches by name.
type PaymeMethod string

const (
	MethodCheckPerformTransaction PaymeMethod = "CheckPerformTransaction"
	MethodCreateTransaction       PaymeMethod = "CreateTransaction"
	MethodPerformTransaction      PaymeMethod = "PerformTransaction"
	MethodCancelTransaction       PaymeMethod = "CancelTransaction"
	MethodCheckTransaction        PaymeMethod = "CheckTransaction"
	MethodGetStatement            PaymeMethod = "GetStatement"
)

// Payme JSON-RPC error codes. The merchant cabinet retries on anything but a
// well-formed error object, so every failure path must produce one of these.
const (
	PaymeCodeUnknownMethod    = -32601
	PaymeCodeInternalError    = -32400
	PaymeCodeUnauthorized     = -32504
	PaymeCodeTxNotFound       = -32504
	PaymeCodeOrderUnavailable = -31050
	PaymeCodeWrongAmount      = -31001
	PaymeCodeCannotPerform    = -31008
)

// PaymeRequest is the JSON-RPC envelope Payme posts to the webhook.
type PaymeRequest struct {
	ID     int64       `json:"id"`
	Method PaymeMethod `json:"method"`
	Params PaymeParams `json:"params"`
}

// PaymeParams carries the union of parameters across the six methods.
type PaymeParams struct {
	ID      string       `json:"id,omitempty"` // provider transaction id
	Time    int64        `json:"time,omitempty"`
	Amount  int64        `json:"amount,omitempty"` // tiyin
	Account PaymeAccount `json:"account,omitempty"`
	From    int64        `json:"from,omitempty"`
	To      int64        `json:"to,omitempty"`
	Reason  *int         `json:"reason,omitempty"`
}

// PaymeAccount identifies the order being paid.
type PaymeAccount struct {
	OrderID string `json:"order_id"`
}

// PaymeResponse is the JSON-RPC envelope returned to Payme.
type PaymeResponse struct {
	ID     int64       `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *PaymeError `json:"error,omitempty"`
}

// PaymeError is a JSON-RPC error object.
type PaymeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// paymeTxResult is the common create/perform/cancel result shape.
type paymeTxResult struct {
	CreateTime  int64  `json:"create_time,omitempty"`
	PerformTime int64  `json:"perform_time,omitempty"`
	CancelTime  int64  `json:"cancel_time,omitempty"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

// paymeSnapshot is the CheckTransaction / GetStatement entry shape.
type paymeSnapshot struct {
	ID          string        `json:"id,omitempty"`
	Amount      int64         `json:"amount,omitempty"`
	Account     *PaymeAccount `json:"account,omitempty"`
	CreateTime  int64         `json:"create_time"`
	PerformTime int64         `json:"perform_time"`
	CancelTime  int64         `json:"cancel_time"`
	Transaction string        `json:"transaction"`
	State       int           `json:"state"`
	Reason      *int          `json:"reason"`
}

// PaymeService implements the six-method Payme callback protocol. Every
// method is idempotent under repeated delivery; duplicate and out-of-order
// callbacks converge on the single record owned by the order id.
type PaymeService struct {
	store record.Repository
	txm   TransactionManager
	cache StatusCache
}

// NewPaymeService creates a new PaymeService.
func NewPaymeService(store record.Repository, txm TransactionManager, cache StatusCache) *PaymeService {
	return &PaymeService{store: store, txm: txm, cache: cache}
}

// Handle dispatches a webhook request to the matching method handler.
// An unrecognized method produces the JSON-RPC "method not found" error,
// never a silent fallthrough.
func (s *PaymeService) Handle(ctx context.Context, req PaymeRequest) PaymeResponse {
	switch req.Method {
	case MethodCheckPerformTransaction:
		return s.checkPerform(ctx, req)
	case MethodCreateTransaction:
		return s.create(ctx, req)
	case MethodPerformTransaction:
		return s.perform(ctx, req)
	case MethodCancelTransaction:
		return s.cancel(ctx, req)
	case MethodCheckTransaction:
		return s.check(ctx, req)
	case MethodGetStatement:
		return s.statement(ctx, req)
	default:
		return paymeErr(req.ID, PaymeCodeUnknownMethod, "Unknown method")
	}
}

// checkPerform is a read-only feasibility check: the order must exist and
// the offered amount must match the registered intent.
func (s *PaymeService) checkPerform(ctx context.Context, req PaymeRequest) PaymeResponse {
	rec, err := s.store.GetByOrderID(ctx, req.Params.Account.OrderID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrRecordNotFound) {
			return paymeErr(req.ID, PaymeCodeOrderUnavailable, "Order not found")
		}
		return paymeInternal(req.ID, err)
	}
	if req.Params.Amount != 0 && req.Params.Amount != SumsToTiyin(rec.Amount) {
		return paymeErr(req.ID, PaymeCodeWrongAmount, "Incorrect amount")
	}
	return paymeOK(req.ID, map[string]any{"allow": true})
}

// create binds the provider transaction id to the order's record.
//
// The order of lookups matters: transaction id first (replay short-circuit),
// then a conditional update-if-absent bind on the order record. A second
// record is never inserted for an order that already has one; intent
// registration always precedes Payme involvement, so a missing order is a
// genuine caller error.
func (s *PaymeService) create(ctx context.Context, req PaymeRequest) PaymeResponse {
	txID := req.Params.ID
	orderID := req.Params.Account.OrderID

	if existing, err := s.store.GetByProviderTxID(ctx, txID); err == nil {
		return paymeOK(req.ID, paymeTxResult{
			CreateTime:  record.MsEpoch(&existing.CreateTime),
			Transaction: existing.ID.String(),
			State:       record.ProviderStateOf(existing.Status),
		})
	} else if !errors.Is(err, domainErrors.ErrRecordNotFound) {
		return paymeInternal(req.ID, err)
	}

	rec, err := s.store.BindProviderTx(ctx, orderID, txID)
	switch {
	case err == nil:
	case errors.Is(err, domainErrors.ErrOrderNotFound):
		return paymeErr(req.ID, PaymeCodeOrderUnavailable, "Order not found")
	case errors.Is(err, domainErrors.ErrTransactionBound):
		// Lost a race or the order is taken: if our transaction id won after
		// all, treat as replay.
		if existing, lookupErr := s.store.GetByProviderTxID(ctx, txID); lookupErr == nil {
			return paymeOK(req.ID, paymeTxResult{
				CreateTime:  record.MsEpoch(&existing.CreateTime),
				Transaction: existing.ID.String(),
				State:       record.ProviderStateOf(existing.Status),
			})
		}
		return paymeErr(req.ID, PaymeCodeOrderUnavailable, "Order is already being paid by another transaction")
	default:
		return paymeInternal(req.ID, err)
	}

	if expected := SumsToTiyin(rec.Amount); req.Params.Amount != 0 && req.Params.Amount != expected {
		log.Warn().Str("order_id", orderID).Int64("got", req.Params.Amount).Int64("want", expected).
			Msg("payme amount differs from registered intent")
	}

	s.appendEvent(ctx, rec, "payme.transaction_created", map[string]any{
		"transaction_id": txID,
		"amount_tiyin":   req.Params.Amount,
	})
	s.invalidate(ctx, rec.OrderID)

	return paymeOK(req.ID, paymeTxResult{
		CreateTime:  record.MsEpoch(&rec.CreateTime),
		Transaction: rec.ID.String(),
		State:       record.ProviderStateOf(rec.Status),
	})
}

// perform settles the transaction. Repeated delivery returns the original
// perform time without re-stamping it.
func (s *PaymeService) perform(ctx context.Context, req PaymeRequest) PaymeResponse {
	rec, err := s.store.GetByProviderTxID(ctx, req.Params.ID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrRecordNotFound) {
			return paymeErr(req.ID, PaymeCodeTxNotFound, "Transaction not found")
		}
		return paymeInternal(req.ID, err)
	}

	now := time.Now().UTC()
	var updated *record.Record
	err = s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		var txErr error
		updated, txErr = s.store.SetPerformed(txCtx, rec.ID, now)
		if txErr != nil {
			return txErr
		}
		// Our timestamp survived only if this call won the transition.
		if updated.PerformTime != nil && updated.PerformTime.Equal(now) {
			return s.store.AddEvent(txCtx, &record.Event{
				ID:        uuid.New(),
				RecordID:  updated.ID,
				EventType: "payme.transaction_performed",
				EventData: map[string]any{"transaction_id": req.Params.ID},
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			return paymeErr(req.ID, PaymeCodeCannotPerform, "Unable to perform operation")
		}
		return paymeInternal(req.ID, err)
	}

	s.invalidate(ctx, updated.OrderID)
	return paymeOK(req.ID, paymeTxResult{
		PerformTime: record.MsEpoch(updated.PerformTime),
		Transaction: updated.ID.String(),
		State:       2,
	})
}

// cancel reverses the transaction. Cancels for transactions this engine has
// never seen are acknowledged best-effort so the provider stops retrying.
func (s *PaymeService) cancel(ctx context.Context, req PaymeRequest) PaymeResponse {
	rec, err := s.store.GetByProviderTxID(ctx, req.Params.ID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrRecordNotFound) {
			now := time.Now().UTC()
			return paymeOK(req.ID, paymeTxResult{
				CancelTime:  now.UnixMilli(),
				Transaction: req.Params.ID,
				State:       -2,
			})
		}
		return paymeInternal(req.ID, err)
	}

	now := time.Now().UTC()
	var updated *record.Record
	err = s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		var txErr error
		updated, txErr = s.store.SetCanceled(txCtx, rec.ID, now)
		if txErr != nil {
			return txErr
		}
		if updated.CancelTime != nil && updated.CancelTime.Equal(now) {
			return s.store.AddEvent(txCtx, &record.Event{
				ID:        uuid.New(),
				RecordID:  updated.ID,
				EventType: "payme.transaction_canceled",
				EventData: map[string]any{"transaction_id": req.Params.ID, "reason": req.Params.Reason},
			})
		}
		return nil
	})
	if err != nil {
		return paymeInternal(req.ID, err)
	}

	s.invalidate(ctx, updated.OrderID)
	cancelTime := record.MsEpoch(updated.CancelTime)
	if cancelTime == 0 {
		cancelTime = now.UnixMilli()
	}
	return paymeOK(req.ID, paymeTxResult{
		CancelTime:  cancelTime,
		Transaction: updated.ID.String(),
		State:       -2,
	})
}

// check returns the full timestamp/state snapshot for a transaction.
func (s *PaymeService) check(ctx context.Context, req PaymeRequest) PaymeResponse {
	rec, err := s.store.GetByProviderTxID(ctx, req.Params.ID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrRecordNotFound) {
			return paymeErr(req.ID, PaymeCodeTxNotFound, "Transaction not found")
		}
		return paymeInternal(req.ID, err)
	}

	return paymeOK(req.ID, paymeSnapshot{
		CreateTime:  record.MsEpoch(&rec.CreateTime),
		PerformTime: record.MsEpoch(rec.PerformTime),
		CancelTime:  record.MsEpoch(rec.CancelTime),
		Transaction: rec.ID.String(),
		State:       record.ProviderStateOf(rec.Status),
		Reason:      nil,
	})
}

// statement lists records created inside the inclusive [from, to] window,
// newest first, amounts re-expressed in tiyin.
func (s *PaymeService) statement(ctx context.Context, req PaymeRequest) PaymeResponse {
	from := time.UnixMilli(req.Params.From).UTC()
	to := time.UnixMilli(req.Params.To).UTC()

	records, err := s.store.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return paymeInternal(req.ID, err)
	}

	transactions := make([]paymeSnapshot, 0, len(records))
	for _, rec := range records {
		entry := paymeSnapshot{
			Amount:      SumsToTiyin(rec.Amount),
			Account:     &PaymeAccount{OrderID: rec.OrderID},
			CreateTime:  record.MsEpoch(&rec.CreateTime),
			PerformTime: record.MsEpoch(rec.PerformTime),
			CancelTime:  record.MsEpoch(rec.CancelTime),
			Transaction: rec.ID.String(),
			State:       record.ProviderStateOf(rec.Status),
			Reason:      nil,
		}
		if rec.ProviderTxID != nil {
			entry.ID = *rec.ProviderTxID
		}
		transactions = append(transactions, entry)
	}

	return paymeOK(req.ID, map[string]any{"transactions": transactions})
}

func (s *PaymeService) appendEvent(ctx context.Context, rec *record.Record, eventType string, data map[string]any) {
	if err := s.store.AddEvent(ctx, &record.Event{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		EventType: eventType,
		EventData: data,
	}); err != nil {
		log.Warn().Err(err).Str("order_id", rec.OrderID).Str("event", eventType).
			Msg("failed to append audit event")
	}
}

func (s *PaymeService) invalidate(ctx context.Context, orderID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, orderID)
	}
}

func paymeOK(id int64, result any) PaymeResponse {
	return PaymeResponse{ID: id, Result: result}
}

func paymeErr(id int64, code int, message string) PaymeResponse {
	return PaymeResponse{ID: id, Error: &PaymeError{Code: code, Message: message}}
}

func paymeInternal(id int64, err error) PaymeResponse {
	log.Error().Err(err).Msg("payme webhook store failure")
	return paymeErr(id, PaymeCodeInternalError, "Internal error")
}
