package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kioskpay/gateway/internal/infrastructure/observability"
	"github.com/kioskpay/gateway/internal/service"
)

// PaymeController terminates the Payme JSON-RPC webhook. Every response,
// including protocol errors, is HTTP 200 with a JSON-RPC envelope; anything
// else makes the Payme cabinet retry indefinitely.
type PaymeController struct {
	paymeService *service.PaymeService
	metrics      *observability.Metrics
}

// NewPaymeController creates a new PaymeController.
func NewPaymeController(paymeService *service.PaymeService, metrics *observability.Metrics) *PaymeController {
	return &PaymeController{paymeService: paymeService, metrics: metrics}
}

// Webhook handles POST /api/payme/webhook
func (h *PaymeController) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req service.PaymeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observe("malformed", "error", start)
		writeJSON(w, http.StatusOK, service.PaymeResponse{
			Error: &service.PaymeError{Code: service.PaymeCodeInternalError, Message: "Invalid request body"},
		})
		return
	}

	resp := h.paymeService.Handle(r.Context(), req)

	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
	}
	h.observe(string(req.Method), outcome, start)

	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymeController) observe(method, outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhooksTotal.WithLabelValues("payme", method, outcome).Inc()
	h.metrics.WebhookDuration.WithLabelValues("payme", method).Observe(time.Since(start).Seconds())
}
