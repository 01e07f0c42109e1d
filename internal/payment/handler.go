package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	errors "github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// InitiatePayment handles POST /api/v1/payments/stk
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("InitiatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.PaymentService.Initiate(r.Context(), &req)
	if err != nil {
		h.Logger.Error("InitiatePayment: service error",
			"error", err,
			"order_id", req.OrderID)
		h.HandleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Deduplicated {
		status = http.StatusOK
	}

	h.Logger.Info("InitiatePayment: push initiated",
		"order_id", req.OrderID,
		"transaction_id", resp.TransactionID,
		"correlation_id", resp.CorrelationID,
		"deduplicated", resp.Deduplicated)

	h.WriteJSON(w, status, resp)
}

// GetStatus handles GET /api/v1/payments/status?order_id=|checkout_request_id=
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	correlationID := r.URL.Query().Get("checkout_request_id")

	if orderID == "" && correlationID == "" {
		h.HandleError(w, errors.NewValidationError("order_id or checkout_request_id is required", errors.ErrCodeValidationFailed))
		return
	}

	var (
		view *StatusView
		err  error
	)
	if orderID != "" {
		view, err = h.PaymentService.StatusByOrder(r.Context(), orderID)
	} else {
		view, err = h.PaymentService.StatusByCorrelationID(r.Context(), correlationID)
	}
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}
