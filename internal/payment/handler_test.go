package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/fastgas/payment-reconciliation/internal"
	paymentPkg "github.com/fastgas/payment-reconciliation/internal/payment"
	"github.com/fastgas/payment-reconciliation/internal/transport"
)

// Mock payment service for handler tests
type mockPaymentService struct {
	initiateResp *paymentPkg.InitiateResponse
	initiateErr  error
	statusView   *paymentPkg.StatusView
	statusErr    error

	lastOrderID       string
	lastCorrelationID string
}

func (m *mockPaymentService) Initiate(ctx context.Context, req *paymentPkg.InitiateRequest) (*paymentPkg.InitiateResponse, error) {
	if m.initiateErr != nil {
		return nil, m.initiateErr
	}
	return m.initiateResp, nil
}

func (m *mockPaymentService) StatusByOrder(ctx context.Context, orderReference string) (*paymentPkg.StatusView, error) {
	m.lastOrderID = orderReference
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.statusView, nil
}

func (m *mockPaymentService) StatusByCorrelationID(ctx context.Context, correlationID string) (*paymentPkg.StatusView, error) {
	m.lastCorrelationID = correlationID
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.statusView, nil
}

var _ = Describe("PaymentHandler", func() {
	var (
		handler  *paymentPkg.Handler
		service  *mockPaymentService
		recorder *httptest.ResponseRecorder
		logger   *slog.Logger
	)

	BeforeEach(func() {
		service = &mockPaymentService{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewHandler(transport.NewBaseHandler(logger), service, logger)
		recorder = httptest.NewRecorder()
	})

	Describe("InitiatePayment", func() {
		It("should return 201 for a new attempt", func() {
			service.initiateResp = &paymentPkg.InitiateResponse{
				TransactionID: "tx-1",
				CorrelationID: "ws_CO_1",
				State:         "pending",
			}

			body, _ := json.Marshal(paymentPkg.InitiateRequest{
				OrderID:     "FG-2024-0001",
				PhoneNumber: "0708374149",
				Amount:      2350,
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stk", bytes.NewBuffer(body))
			handler.InitiatePayment(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusCreated))

			var resp paymentPkg.InitiateResponse
			Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.CorrelationID).To(Equal("ws_CO_1"))
		})

		It("should return 200 when the attempt was deduplicated", func() {
			service.initiateResp = &paymentPkg.InitiateResponse{
				TransactionID: "tx-1",
				CorrelationID: "ws_CO_1",
				State:         "pending",
				Deduplicated:  true,
			}

			body, _ := json.Marshal(paymentPkg.InitiateRequest{
				OrderID:     "FG-2024-0001",
				PhoneNumber: "0708374149",
				Amount:      2350,
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stk", bytes.NewBuffer(body))
			handler.InitiatePayment(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
		})

		It("should return 400 for an unparseable body", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stk", bytes.NewBufferString("{"))
			handler.InitiatePayment(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map service errors to their status codes", func() {
			service.initiateErr = internal.ErrOrderNotPayable

			body, _ := json.Marshal(paymentPkg.InitiateRequest{
				OrderID:     "FG-2024-0001",
				PhoneNumber: "0708374149",
				Amount:      2350,
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stk", bytes.NewBuffer(body))
			handler.InitiatePayment(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("GetStatus", func() {
		It("should require one of the lookup parameters", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status", nil)
			handler.GetStatus(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})

		It("should resolve by order id", func() {
			service.statusView = &paymentPkg.StatusView{TransactionID: "tx-1", State: "completed"}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?order_id=FG-2024-0001", nil)
			handler.GetStatus(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(service.lastOrderID).To(Equal("FG-2024-0001"))
		})

		It("should resolve by checkout request id", func() {
			service.statusView = &paymentPkg.StatusView{TransactionID: "tx-1", State: "pending"}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?checkout_request_id=ws_CO_1", nil)
			handler.GetStatus(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(service.lastCorrelationID).To(Equal("ws_CO_1"))
		})

		It("should return 404 for an unknown attempt", func() {
			service.statusErr = internal.ErrTxnNotFound

			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?order_id=FG-2024-0001", nil)
			handler.GetStatus(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})
})
