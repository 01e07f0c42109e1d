package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
	paymentPkg "github.com/fastgas/payment-reconciliation/internal/payment"
	"github.com/fastgas/payment-reconciliation/internal/transport"
)

// Mock reconciler capturing applied callbacks
type mockReconciler struct {
	callbacks    []*paymentPkg.Callback
	reconcileErr error
}

func (m *mockReconciler) Reconcile(ctx context.Context, cb *paymentPkg.Callback) error {
	m.callbacks = append(m.callbacks, cb)
	return m.reconcileErr
}

func (m *mockReconciler) ExpireIfStale(ctx context.Context, tx *transaction.Transaction) (bool, error) {
	return false, nil
}

func (m *mockReconciler) SweepStale(ctx context.Context) (int, error) {
	return 0, nil
}

var _ = Describe("WebhookHandler", func() {
	var (
		handler    *paymentPkg.WebhookHandler
		reconciler *mockReconciler
		recorder   *httptest.ResponseRecorder
		logger     *slog.Logger
	)

	BeforeEach(func() {
		reconciler = &mockReconciler{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewWebhookHandler(transport.NewBaseHandler(logger), reconciler, logger)
		recorder = httptest.NewRecorder()
	})

	post := func(body string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(body))
		handler.HandleGatewayCallback(recorder, req)
	}

	expectAck := func() {
		Expect(recorder.Code).To(Equal(http.StatusOK))

		var ack paymentPkg.CallbackAck
		Expect(json.Unmarshal(recorder.Body.Bytes(), &ack)).To(Succeed())
		Expect(ack.ResultCode).To(Equal(0))
	}

	Context("when the callback is well formed", func() {
		It("should reconcile it and acknowledge", func() {
			post(successCallbackBody)

			expectAck()
			Expect(reconciler.callbacks).To(HaveLen(1))
			Expect(reconciler.callbacks[0].CheckoutRequestID).To(Equal("ws_CO_191220191020363925"))
		})
	})

	Context("when the callback is malformed", func() {
		It("should acknowledge without reconciling", func() {
			post("this is not json")

			expectAck()
			Expect(reconciler.callbacks).To(BeEmpty())
		})
	})

	Context("when the callback is empty", func() {
		It("should still acknowledge", func() {
			post("")

			expectAck()
			Expect(reconciler.callbacks).To(BeEmpty())
		})
	})

	Context("when reconciliation fails internally", func() {
		It("should acknowledge anyway", func() {
			reconciler.reconcileErr = errors.New("database is down")

			post(successCallbackBody)

			expectAck()
			Expect(reconciler.callbacks).To(HaveLen(1))
		})
	})
})
