package service

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/kioskpay/gateway/internal/domain/errors"
	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/infrastructure/config"
	"github.com/kioskpay/gateway/pkg/retry"
	"github.com/rs/zerolog/log"
)

// Click result codes returned in the "error" field of every response.
const (
	ClickCodeSuccess         = 0
	ClickCodeAmountMismatch  = -2
	ClickCodeInvalidAction   = -3
	ClickCodeServiceMismatch = -5
	ClickCodeNotFound        = -6
	ClickCodeMissingParams   = -8
	ClickCodeUpstreamFailure = -9
)

// Click action values carried in the complete callback.
const (
	clickActionCancel  = 0
	clickActionConfirm = 1
)

// ClickPrepareRequest is the form payload of the prepare callback. Click
// posts everything as strings; numeric fields are parsed by the service.
type ClickPrepareRequest struct {
	ClickTransID    string
	ServiceID       string
	MerchantTransID string
	Amount          string
	Action          string
	SignTime        string
}

// ClickPrepareResponse acknowledges a prepare callback.
type ClickPrepareResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickCompleteRequest is the form payload of the complete callback.
type ClickCompleteRequest struct {
	ClickTransID      string
	ServiceID         string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	SignTime          string
}

// ClickCompleteResponse acknowledges a complete callback.
type ClickCompleteResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantConfirmID string `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickService implements the two-phase Click merchant callback protocol.
// Prepare stakes a claim on the order record; complete settles or cancels it
// against the prepare id issued earlier.
type ClickService struct {
	store record.Repository
	txm   TransactionManager
	cache StatusCache
	cfg   config.ClickConfig
}

// NewClickService creates a new ClickService.
func NewClickService(store record.Repository, txm TransactionManager, cache StatusCache, cfg config.ClickConfig) *ClickService {
	return &ClickService{store: store, txm: txm, cache: cache, cfg: cfg}
}

// Prepare handles the first callback phase. It locates or creates the order
// record, reconciles the amount against the registered intent, binds the
// Click transaction id, and returns the record id as merchant_prepare_id.
func (s *ClickService) Prepare(ctx context.Context, req ClickPrepareRequest) ClickPrepareResponse {
	resp := ClickPrepareResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
	}

	if req.ClickTransID == "" || req.MerchantTransID == "" || req.Amount == "" {
		resp.Error = ClickCodeMissingParams
		resp.ErrorNote = "Missing required parameters"
		return resp
	}
	if s.cfg.ServiceID != "" && req.ServiceID != s.cfg.ServiceID {
		resp.Error = ClickCodeServiceMismatch
		resp.ErrorNote = "Unknown service"
		return resp
	}

	amount, err := parseClickAmount(req.Amount)
	if err != nil {
		resp.Error = ClickCodeMissingParams
		resp.ErrorNote = "Invalid amount"
		return resp
	}

	// A repeat prepare that finds everything already in place must not grow
	// the audit trail; the event is appended only when this delivery changed
	// the record.
	changed := false

	orderID := req.MerchantTransID
	rec, err := s.store.GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		if rec.Provider != record.ProviderClick && rec.Status == record.StatusPending {
			if err := s.store.Relabel(ctx, rec.ID, record.ProviderClick); err != nil {
				return s.prepareFailure(resp, err)
			}
			rec.Provider = record.ProviderClick
			changed = true
		}
	case errors.Is(err, domainErrors.ErrRecordNotFound):
		// No prior intent: the kiosk flow normally registers one before the
		// customer reaches Click, but a direct payment is still honored.
		rec, err = retry.DoWithResult(ctx, retry.ConflictConfig(), func() (*record.Record, error) {
			fresh, newErr := record.New(orderID, record.ProviderClick, amount)
			if newErr != nil {
				return nil, newErr
			}
			if createErr := s.store.Create(ctx, fresh); createErr != nil {
				if errors.Is(createErr, domainErrors.ErrDuplicateOrder) {
					return s.store.GetByOrderID(ctx, orderID)
				}
				return nil, createErr
			}
			changed = true
			return fresh, nil
		})
		if err != nil {
			return s.prepareFailure(resp, err)
		}
	default:
		return s.prepareFailure(resp, err)
	}

	// The provider's figure is what the customer actually paid; a stale
	// intent amount is corrected rather than rejected. Settled records keep
	// their settled amount.
	if rec.Amount != amount {
		log.Warn().Str("order_id", orderID).Int64("intent", rec.Amount).Int64("provider", amount).
			Msg("click amount differs from registered intent")
		prev := rec.Amount
		if rec, err = s.store.CorrectAmount(ctx, rec.ID, amount); err != nil {
			return s.prepareFailure(resp, err)
		}
		if rec.Amount != prev {
			changed = true
		}
	}

	if rec.ProviderTxID == nil {
		if rec, err = s.store.BindProviderTx(ctx, orderID, req.ClickTransID); err != nil {
			if errors.Is(err, domainErrors.ErrTransactionBound) {
				if rec, err = s.store.GetByOrderID(ctx, orderID); err != nil {
					return s.prepareFailure(resp, err)
				}
			} else {
				return s.prepareFailure(resp, err)
			}
		} else {
			changed = true
		}
	}
	if rec.ProviderTxID != nil && *rec.ProviderTxID != req.ClickTransID {
		// Click occasionally re-prepares with a fresh transaction id after a
		// client-side retry. The original binding is kept; settlement still
		// matches on the prepare id.
		log.Warn().Str("order_id", orderID).Str("bound", *rec.ProviderTxID).Str("incoming", req.ClickTransID).
			Msg("click transaction id differs from bound transaction")
	}

	if changed {
		s.appendEvent(ctx, rec, "click.prepared", map[string]any{
			"click_trans_id": req.ClickTransID,
			"amount":         amount,
		})
		s.invalidate(ctx, orderID)
	}

	resp.MerchantPrepareID = rec.ID.String()
	resp.Error = ClickCodeSuccess
	resp.ErrorNote = "Success"
	return resp
}

// Complete handles the second callback phase: confirm settles the record,
// cancel reverses it, and a non-zero upstream error marks it failed.
func (s *ClickService) Complete(ctx context.Context, req ClickCompleteRequest) ClickCompleteResponse {
	resp := ClickCompleteResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
	}

	if req.ClickTransID == "" || req.MerchantPrepareID == "" {
		resp.Error = ClickCodeMissingParams
		resp.ErrorNote = "Missing required parameters"
		return resp
	}
	if s.cfg.ServiceID != "" && req.ServiceID != s.cfg.ServiceID {
		resp.Error = ClickCodeServiceMismatch
		resp.ErrorNote = "Unknown service"
		return resp
	}

	rec, ok := s.findPrepared(ctx, req)
	if !ok {
		resp.Error = ClickCodeNotFound
		resp.ErrorNote = "Transaction not found"
		return resp
	}

	if amount, err := parseClickAmount(req.Amount); err == nil && amount != rec.Amount {
		resp.Error = ClickCodeAmountMismatch
		resp.ErrorNote = "Incorrect amount"
		return resp
	}

	// Click reports its own upstream failure through the error field; the
	// record is marked failed and the failure echoed back.
	if upstream, err := strconv.Atoi(req.Error); err == nil && upstream != 0 {
		now := time.Now().UTC()
		updated, err := s.store.SetFailed(ctx, rec.ID, now)
		if err != nil && !errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			return s.completeFailure(resp, err)
		}
		// A redelivered failure finds the record already failed; only the
		// delivery that performed the transition is recorded.
		if err == nil && updated.CancelTime != nil && updated.CancelTime.Equal(now) {
			s.appendEvent(ctx, updated, "click.upstream_failed", map[string]any{"upstream_error": upstream})
			s.invalidate(ctx, rec.OrderID)
		}
		resp.Error = ClickCodeUpstreamFailure
		resp.ErrorNote = "Upstream reported failure"
		return resp
	}

	action, err := strconv.Atoi(req.Action)
	if err != nil {
		resp.Error = ClickCodeInvalidAction
		resp.ErrorNote = "Invalid action"
		return resp
	}

	switch action {
	case clickActionCancel:
		return s.completeCancel(ctx, rec, resp)
	case clickActionConfirm:
		return s.completeConfirm(ctx, rec, resp)
	default:
		resp.Error = ClickCodeInvalidAction
		resp.ErrorNote = "Invalid action"
		return resp
	}
}

// findPrepared locates the record staked by prepare: the prepare id must be
// the record id of a Click record whose bound transaction matches.
func (s *ClickService) findPrepared(ctx context.Context, req ClickCompleteRequest) (*record.Record, bool) {
	prepareID, err := uuid.Parse(req.MerchantPrepareID)
	if err != nil {
		return nil, false
	}
	rec, err := s.store.GetByID(ctx, prepareID)
	if err != nil {
		return nil, false
	}
	if rec.Provider != record.ProviderClick {
		return nil, false
	}
	if rec.ProviderTxID == nil || *rec.ProviderTxID != req.ClickTransID {
		return nil, false
	}
	return rec, true
}

func (s *ClickService) completeConfirm(ctx context.Context, rec *record.Record, resp ClickCompleteResponse) ClickCompleteResponse {
	if rec.Status == record.StatusCanceled || rec.Status == record.StatusFailed {
		resp.Error = ClickCodeUpstreamFailure
		resp.ErrorNote = "Transaction is no longer payable"
		return resp
	}
	if rec.Status == record.StatusSuccess {
		resp.MerchantConfirmID = rec.ID.String()
		resp.Error = ClickCodeSuccess
		resp.ErrorNote = "Already paid"
		return resp
	}

	now := time.Now().UTC()
	var updated *record.Record
	err := s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		var txErr error
		updated, txErr = s.store.SetPerformed(txCtx, rec.ID, now)
		if txErr != nil {
			return txErr
		}
		if updated.PerformTime != nil && updated.PerformTime.Equal(now) {
			return s.store.AddEvent(txCtx, &record.Event{
				ID:        uuid.New(),
				RecordID:  updated.ID,
				EventType: "click.confirmed",
				EventData: map[string]any{"click_trans_id": resp.ClickTransID},
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			resp.Error = ClickCodeUpstreamFailure
			resp.ErrorNote = "Transaction is no longer payable"
			return resp
		}
		return s.completeFailure(resp, err)
	}

	s.invalidate(ctx, updated.OrderID)
	resp.MerchantConfirmID = updated.ID.String()
	resp.Error = ClickCodeSuccess
	if updated.PerformTime != nil && !updated.PerformTime.Equal(now) {
		resp.ErrorNote = "Already paid"
	} else {
		resp.ErrorNote = "Success"
	}
	return resp
}

func (s *ClickService) completeCancel(ctx context.Context, rec *record.Record, resp ClickCompleteResponse) ClickCompleteResponse {
	now := time.Now().UTC()
	var updated *record.Record
	err := s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		var txErr error
		updated, txErr = s.store.SetCanceled(txCtx, rec.ID, now)
		if txErr != nil {
			return txErr
		}
		if updated.CancelTime != nil && updated.CancelTime.Equal(now) {
			return s.store.AddEvent(txCtx, &record.Event{
				ID:        uuid.New(),
				RecordID:  updated.ID,
				EventType: "click.canceled",
				EventData: map[string]any{"click_trans_id": resp.ClickTransID},
			})
		}
		return nil
	})
	if err != nil {
		return s.completeFailure(resp, err)
	}

	s.invalidate(ctx, updated.OrderID)
	resp.MerchantConfirmID = updated.ID.String()
	resp.Error = ClickCodeSuccess
	resp.ErrorNote = "Canceled"
	return resp
}

func (s *ClickService) prepareFailure(resp ClickPrepareResponse, err error) ClickPrepareResponse {
	log.Error().Err(err).Str("order_id", resp.MerchantTransID).Msg("click prepare store failure")
	resp.Error = ClickCodeUpstreamFailure
	resp.ErrorNote = "Internal error"
	return resp
}

func (s *ClickService) completeFailure(resp ClickCompleteResponse, err error) ClickCompleteResponse {
	log.Error().Err(err).Str("order_id", resp.MerchantTransID).Msg("click complete store failure")
	resp.Error = ClickCodeUpstreamFailure
	resp.ErrorNote = "Internal error"
	return resp
}

func (s *ClickService) appendEvent(ctx context.Context, rec *record.Record, eventType string, data map[string]any) {
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

func (s *ClickService) invalidate(ctx context.Context, orderID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, orderID)
	}
}

// parseClickAmount parses Click's decimal sum amount ("15000.00") into whole
// sums. Fractional tiyin are rounded to the nearest sum.
func parseClickAmount(raw string) (int64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f)), nil
}
