package payment

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/fastgas/payment-reconciliation/internal/transport"
)

// maxCallbackBytes bounds the callback body read; gateway payloads are a few
// hundred bytes.
const maxCallbackBytes = 1 << 16

// CallbackAck is the body the gateway expects. Anything other than a success
// acknowledgment triggers redelivery, so it is returned unconditionally.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

type WebhookHandler struct {
	*transport.BaseHandler
	reconciler ReconcilerAPI
	logger     *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, reconciler ReconcilerAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// HandleGatewayCallback handles POST /api/v1/payments/callback. The gateway
// is always acknowledged with a success body: a non-success response means
// "redeliver", and redelivering a callback whose side effects already ran is
// worse than swallowing a local error.
func (h *WebhookHandler) HandleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	defer h.ack(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		h.logger.Error("failed to read gateway callback body", "error", err)
		return
	}

	cb, err := ParseCallback(body)
	if err != nil {
		h.logger.Error("unparseable gateway callback acknowledged without effect",
			"error", err,
			"body", string(body))
		return
	}

	h.logger.Info("received gateway callback",
		"checkout_request_id", cb.CheckoutRequestID,
		"merchant_request_id", cb.MerchantRequestID,
		"result_code", cb.ResultCode)

	if err := h.reconciler.Reconcile(r.Context(), cb); err != nil {
		h.logger.Error("callback reconciliation failed; acknowledged anyway",
			"checkout_request_id", cb.CheckoutRequestID,
			"error", err)
	}
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	h.WriteJSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
