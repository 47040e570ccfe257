package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kioskpay/gateway/internal/domain/record"
	"github.com/kioskpay/gateway/internal/infrastructure/observability"
	"github.com/kioskpay/gateway/internal/service"
)

// PaymentController handles the kiosk-facing and operator-facing endpoints.
type PaymentController struct {
	intentService *service.IntentService
	statusService *service.StatusService
	adminService  *service.AdminService
	metrics       *observability.Metrics
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(
	intentService *service.IntentService,
	statusService *service.StatusService,
	adminService *service.AdminService,
	metrics *observability.Metrics,
) *PaymentController {
	return &PaymentController{
		intentService: intentService,
		statusService: statusService,
		adminService:  adminService,
		metrics:       metrics,
	}
}

// CreateIntent handles POST /api/v1/intents
func (h *PaymentController) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	provider := record.Provider(req.Provider)
	rec, err := h.intentService.Register(r.Context(), req.OrderID, provider, req.Amount)
	if err != nil {
		h.observeIntent(req.Provider, "error")
		writeError(w, err)
		return
	}

	checkoutURL, err := h.intentService.CheckoutURL(rec)
	if err != nil {
		h.observeIntent(req.Provider, "error")
		writeError(w, err)
		return
	}
	h.observeIntent(string(rec.Provider), "ok")

	writeJSON(w, http.StatusCreated, IntentResponse{
		OrderID:     rec.OrderID,
		RecordID:    rec.ID.String(),
		Status:      string(rec.Status),
		Provider:    string(rec.Provider),
		Amount:      rec.Amount,
		CheckoutURL: checkoutURL,
	})
}

// GetStatus handles GET /api/v1/payments/status/{orderID}
func (h *PaymentController) GetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing order id", Code: "invalid_id"})
		return
	}

	proj, err := h.statusService.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, proj)
}

// Simulate handles POST /api/v1/payments/{id}/simulate, where {id} is the
// kiosk order id.
func (h *PaymentController) Simulate(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing order id", Code: "invalid_id"})
		return
	}

	var req SimulateRequest
	// The body is optional; an empty one simulates with defaults.
	if r.ContentLength > 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	rec, err := h.intentService.ForcePaid(r.Context(), orderID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// ListRecords handles GET /api/v1/payments
func (h *PaymentController) ListRecords(w http.ResponseWriter, r *http.Request) {
	filter := record.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status := record.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("provider"); s != "" {
		provider := record.Provider(s)
		filter.Provider = &provider
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, total, err := h.adminService.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ListRecordsResponse{
		Records: make([]*RecordResponse, 0, len(records)),
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStats handles GET /api/v1/stats
func (h *PaymentController) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Total:    stats.Total,
		Success:  stats.Success,
		Pending:  stats.Pending,
		Canceled: stats.Canceled,
		Failed:   stats.Failed,
		Revenue:  stats.Revenue,
	})
}

// GetEvents handles GET /api/v1/payments/{id}/events
func (h *PaymentController) GetEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid record id", Code: "invalid_id"})
		return
	}

	events, err := h.adminService.Events(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, FromEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentController) observeIntent(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.IntentsTotal.WithLabelValues(provider, outcome).Inc()
	}
}
