package payment_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/order"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
	"github.com/fastgas/payment-reconciliation/internal/core/events"
	paymentPkg "github.com/fastgas/payment-reconciliation/internal/payment"
	"github.com/fastgas/payment-reconciliation/internal/paymentgateway"
)

var _ = Describe("Reconciler", func() {
	var (
		reconciler *paymentPkg.Reconciler
		mockRepo   *mockTransactionRepo
		mockOrder  *mockOrderService
		gateway    *mockGateway
		bus        *events.EventBus
		published  chan string
		logger     *slog.Logger
		ctx        context.Context
	)

	cfg := internal.ReconcilerConfig{
		FreshnessWindow:  2 * time.Minute,
		CancelResultCode: 1032,
		SweepInterval:    time.Minute,
	}

	seedPending := func(id, correlationID string) *transaction.Transaction {
		tx := &transaction.Transaction{
			ID:            id,
			CorrelationID: correlationID,
			OrderID:       "FG-2024-0001",
			PayerPhone:    "254708374149",
			Amount:        2350,
			State:         transaction.StatePending,
			CreatedAt:     time.Now().Add(-30 * time.Second),
		}
		mockRepo.transactions[id] = tx
		return tx
	}

	BeforeEach(func() {
		ctx = context.Background()
		mockRepo = newMockTransactionRepo()
		mockOrder = newMockOrderService()
		gateway = &mockGateway{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

		mockOrder.orders["FG-2024-0001"] = &order.Order{
			ID:           1,
			Reference:    "FG-2024-0001",
			TotalAmount:  2350,
			PaymentState: order.PaymentStateProcessing,
		}

		bus = events.NewEventBus(logger)
		published = make(chan string, 10)
		for _, eventType := range []string{
			events.EventTypePaymentCompleted,
			events.EventTypePaymentFailed,
			events.EventTypePaymentCancelled,
			events.EventTypePaymentTimedOut,
		} {
			et := eventType
			bus.Subscribe(et, func(ctx context.Context, event events.Event) error {
				published <- et
				return nil
			})
		}

		reconciler = paymentPkg.NewReconciler(mockRepo, mockOrder, gateway, bus, cfg, logger)
	})

	Describe("Reconcile", func() {
		Context("when a success callback arrives for a pending attempt", func() {
			It("should complete the attempt and run the side effects once", func() {
				tx := seedPending("tx-1", "ws_CO_1")

				err := reconciler.Reconcile(ctx, &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_1",
					ResultCode:        0,
					ResultDesc:        "The service request is processed successfully.",
					ReceiptNumber:     "NLJ7RT61SV",
					Amount:            2350,
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(tx.State).To(Equal(transaction.StateCompleted))
				Expect(tx.ReceiptNumber).ToNot(BeNil())
				Expect(*tx.ReceiptNumber).To(Equal("NLJ7RT61SV"))
				Expect(tx.FinalizedAt).ToNot(BeNil())

				Expect(mockOrder.stateUpdates).To(Equal([]order.PaymentState{order.PaymentStateCompleted}))
				Expect(mockOrder.historyEntries).To(Equal([]string{"payment_completed"}))
				Eventually(published).Should(Receive(Equal(events.EventTypePaymentCompleted)))
			})
		})

		Context("when the payer cancelled on the handset", func() {
			It("should mark the attempt cancelled", func() {
				tx := seedPending("tx-1", "ws_CO_1")

				err := reconciler.Reconcile(ctx, &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_1",
					ResultCode:        1032,
					ResultDesc:        "Request cancelled by user",
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(tx.State).To(Equal(transaction.StateCancelled))
				Expect(tx.ReceiptNumber).To(BeNil())
				Expect(mockOrder.stateUpdates).To(Equal([]order.PaymentState{order.PaymentStateCancelled}))
				Eventually(published).Should(Receive(Equal(events.EventTypePaymentCancelled)))
			})
		})

		Context("when the gateway reports any other failure", func() {
			It("should mark the attempt failed", func() {
				tx := seedPending("tx-1", "ws_CO_1")

				err := reconciler.Reconcile(ctx, &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_1",
					ResultCode:        1037,
					ResultDesc:        "DS timeout user cannot be reached",
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(tx.State).To(Equal(transaction.StateFailed))
				Expect(mockOrder.stateUpdates).To(Equal([]order.PaymentState{order.PaymentStateFailed}))
				Eventually(published).Should(Receive(Equal(events.EventTypePaymentFailed)))
			})
		})

		Context("when no ledger record matches the callback", func() {
			It("should acknowledge without creating anything", func() {
				err := reconciler.Reconcile(ctx, &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_unknown",
					ResultCode:        0,
					ReceiptNumber:     "NLJ7RT61SV",
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(mockRepo.transactions).To(BeEmpty())
				Expect(mockOrder.stateUpdates).To(BeEmpty())
				Expect(mockOrder.historyEntries).To(BeEmpty())
			})
		})

		Context("when the same callback is delivered twice", func() {
			It("should run the side effects exactly once", func() {
				seedPending("tx-1", "ws_CO_1")

				cb := &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_1",
					ResultCode:        0,
					ResultDesc:        "The service request is processed successfully.",
					ReceiptNumber:     "NLJ7RT61SV",
				}

				Expect(reconciler.Reconcile(ctx, cb)).To(Succeed())
				Expect(reconciler.Reconcile(ctx, cb)).To(Succeed())

				Expect(mockOrder.stateUpdates).To(HaveLen(1))
				Expect(mockOrder.historyEntries).To(HaveLen(1))
			})
		})

		Context("when a callback and a timeout race", func() {
			It("should let only the first terminal transition win", func() {
				tx := seedPending("tx-1", "ws_CO_1")
				tx.CreatedAt = time.Now().Add(-5 * time.Minute)

				won, err := reconciler.ExpireIfStale(ctx, tx)
				Expect(err).ToNot(HaveOccurred())
				Expect(won).To(BeTrue())

				err = reconciler.Reconcile(ctx, &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_1",
					ResultCode:        0,
					ReceiptNumber:     "NLJ7RT61SV",
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(tx.State).To(Equal(transaction.StateTimeout))
				Expect(mockOrder.stateUpdates).To(Equal([]order.PaymentState{order.PaymentStateTimedOut}))
			})
		})

		Context("when the callback carries a receipt already held by another attempt", func() {
			It("should complete without the receipt and leave the holder untouched", func() {
				receipt := "NLJ7RT61SV"
				mockRepo.transactions["tx-old"] = &transaction.Transaction{
					ID:            "tx-old",
					CorrelationID: "ws_CO_old",
					OrderID:       "FG-2023-0099",
					State:         transaction.StateCompleted,
					ReceiptNumber: &receipt,
					CreatedAt:     time.Now().Add(-24 * time.Hour),
				}
				tx := seedPending("tx-1", "ws_CO_1")

				err := reconciler.Reconcile(ctx, &paymentPkg.Callback{
					CheckoutRequestID: "ws_CO_1",
					ResultCode:        0,
					ReceiptNumber:     receipt,
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(tx.State).To(Equal(transaction.StateCompleted))
				Expect(tx.ReceiptNumber).To(BeNil())

				holder := mockRepo.transactions["tx-old"]
				Expect(*holder.ReceiptNumber).To(Equal(receipt))
			})
		})
	})

	Describe("ExpireIfStale", func() {
		Context("when the attempt is still inside the freshness window", func() {
			It("should do nothing", func() {
				tx := seedPending("tx-1", "ws_CO_1")

				won, err := reconciler.ExpireIfStale(ctx, tx)

				Expect(err).ToNot(HaveOccurred())
				Expect(won).To(BeFalse())
				Expect(tx.State).To(Equal(transaction.StatePending))
			})
		})

		Context("when the window has elapsed", func() {
			It("should time the attempt out with full side effects", func() {
				tx := seedPending("tx-1", "ws_CO_1")
				tx.CreatedAt = time.Now().Add(-10 * time.Minute)

				won, err := reconciler.ExpireIfStale(ctx, tx)

				Expect(err).ToNot(HaveOccurred())
				Expect(won).To(BeTrue())
				Expect(tx.State).To(Equal(transaction.StateTimeout))
				Expect(mockOrder.stateUpdates).To(Equal([]order.PaymentState{order.PaymentStateTimedOut}))
				Expect(mockOrder.historyEntries).To(Equal([]string{"payment_timeout"}))
				Eventually(published).Should(Receive(Equal(events.EventTypePaymentTimedOut)))
			})
		})
	})

	Describe("SweepStale", func() {
		Context("when the gateway still has the real outcome", func() {
			It("should settle the attempt from the query instead of timing out", func() {
				tx := seedPending("tx-1", "ws_CO_1")
				tx.CreatedAt = time.Now().Add(-10 * time.Minute)
				gateway.queryResp = &paymentgateway.QueryResponse{
					ResultCode: 0,
					ResultDesc: "The service request is processed successfully.",
				}

				settled, err := reconciler.SweepStale(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(settled).To(Equal(1))
				Expect(tx.State).To(Equal(transaction.StateCompleted))
				Expect(mockOrder.stateUpdates).To(Equal([]order.PaymentState{order.PaymentStateCompleted}))
			})
		})

		Context("when the gateway is still waiting on the handset", func() {
			It("should time the attempt out", func() {
				tx := seedPending("tx-1", "ws_CO_1")
				tx.CreatedAt = time.Now().Add(-10 * time.Minute)
				gateway.queryResp = &paymentgateway.QueryResponse{Pending: true}

				settled, err := reconciler.SweepStale(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(settled).To(Equal(1))
				Expect(tx.State).To(Equal(transaction.StateTimeout))
			})
		})

		Context("when the gateway query fails", func() {
			It("should fall back to the timeout transition", func() {
				tx := seedPending("tx-1", "ws_CO_1")
				tx.CreatedAt = time.Now().Add(-10 * time.Minute)
				gateway.queryErr = internal.NewGatewayUnavailableError("gateway unreachable", nil)

				settled, err := reconciler.SweepStale(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(settled).To(Equal(1))
				Expect(tx.State).To(Equal(transaction.StateTimeout))
			})
		})

		Context("when there is nothing stale", func() {
			It("should settle nothing", func() {
				seedPending("tx-1", "ws_CO_1")

				settled, err := reconciler.SweepStale(ctx)

				Expect(err).ToNot(HaveOccurred())
				Expect(settled).To(Equal(0))
			})
		})
	})
})
