package controller

import (
	"net/http"
	"time"

	"github.com/kioskpay/gateway/internal/infrastructure/observability"
	"github.com/kioskpay/gateway/internal/service"
)

// ClickController terminates the Click form-encoded callbacks. Click always
// expects HTTP 200; failures travel in the JSON "error" field.
type ClickController struct {
	clickService *service.ClickService
	metrics      *observability.Metrics
}

// NewClickController creates a new ClickController.
func NewClickController(clickService *service.ClickService, metrics *observability.Metrics) *ClickController {
	return &ClickController{clickService: clickService, metrics: metrics}
}

// Prepare handles POST /api/click/prepare
func (h *ClickController) Prepare(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := r.ParseForm(); err != nil {
		h.observe("prepare", "error", start)
		writeJSON(w, http.StatusOK, service.ClickPrepareResponse{
			Error:     service.ClickCodeMissingParams,
			ErrorNote: "Malformed form body",
		})
		return
	}

	resp := h.clickService.Prepare(r.Context(), service.ClickPrepareRequest{
		ClickTransID:    r.PostFormValue("click_trans_id"),
		ServiceID:       r.PostFormValue("service_id"),
		MerchantTransID: r.PostFormValue("merchant_trans_id"),
		Amount:          r.PostFormValue("amount"),
		Action:          r.PostFormValue("action"),
		SignTime:        r.PostFormValue("sign_time"),
	})

	h.observe("prepare", outcomeOf(resp.Error), start)
	writeJSON(w, http.StatusOK, resp)
}

// Complete handles POST /api/click/complete
func (h *ClickController) Complete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := r.ParseForm(); err != nil {
		h.observe("complete", "error", start)
		writeJSON(w, http.StatusOK, service.ClickCompleteResponse{
			Error:     service.ClickCodeMissingParams,
			ErrorNote: "Malformed form body",
		})
		return
	}

	resp := h.clickService.Complete(r.Context(), service.ClickCompleteRequest{
		ClickTransID:      r.PostFormValue("click_trans_id"),
		ServiceID:         r.PostFormValue("service_id"),
		MerchantTransID:   r.PostFormValue("merchant_trans_id"),
		MerchantPrepareID: r.PostFormValue("merchant_prepare_id"),
		Amount:            r.PostFormValue("amount"),
		Action:            r.PostFormValue("action"),
		Error:             r.PostFormValue("error"),
		SignTime:          r.PostFormValue("sign_time"),
	})

	h.observe("complete", outcomeOf(resp.Error), start)
	writeJSON(w, http.StatusOK, resp)
}

func (h *ClickController) observe(method, outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhooksTotal.WithLabelValues("click", method, outcome).Inc()
	h.metrics.WebhookDuration.WithLabelValues("click", method).Observe(time.Since(start).Seconds())
}

func outcomeOf(code int) string {
	if code == service.ClickCodeSuccess {
		return "ok"
	}
	return "error"
}
