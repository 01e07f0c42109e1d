package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	internal "github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/order"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
	"github.com/fastgas/payment-reconciliation/internal/core/events"
)

const sweepBatchSize = 100

// Reconciler applies gateway results to the ledger. Every terminal
// transition goes through a conditional update; only the caller whose update
// took effect runs the order-side effects and publishes the event.
type Reconciler struct {
	repo             RepositoryAPI
	orders           OrderAPI
	gateway          GatewayAPI
	bus              *events.EventBus
	cancelResultCode int
	freshnessWindow  time.Duration
	logger           *slog.Logger
}

func NewReconciler(repo RepositoryAPI, orders OrderAPI, gateway GatewayAPI, bus *events.EventBus, cfg internal.ReconcilerConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:             repo,
		orders:           orders,
		gateway:          gateway,
		bus:              bus,
		cancelResultCode: cfg.CancelResultCode,
		freshnessWindow:  cfg.FreshnessWindow,
		logger:           logger,
	}
}

// Reconcile applies one parsed callback. Errors returned here are logged by
// the webhook handler; the gateway is acknowledged regardless.
func (r *Reconciler) Reconcile(ctx context.Context, cb *Callback) error {
	tx, err := r.lookup(cb)
	if err != nil {
		return err
	}
	if tx == nil {
		// no record was ever created for this id: a replayed, malformed or
		// foreign callback. Never create a record from a callback.
		r.logger.Warn("orphan callback acknowledged without effect",
			"checkout_request_id", cb.CheckoutRequestID,
			"merchant_request_id", cb.MerchantRequestID,
			"result_code", cb.ResultCode)
		return nil
	}

	if tx.IsTerminal() {
		r.logger.Debug("duplicate callback for settled transaction",
			"transaction_id", tx.ID,
			"state", tx.State,
			"result_code", cb.ResultCode)
		return nil
	}

	target := transaction.TerminalStateFor(cb.ResultCode, r.cancelResultCode)

	var receipt *string
	if target == transaction.StateCompleted && cb.ReceiptNumber != "" {
		holder, err := r.repo.GetByReceipt(cb.ReceiptNumber)
		if err != nil {
			return fmt.Errorf("receipt lookup failed: %w", err)
		}
		if holder != nil && holder.ID != tx.ID {
			r.logger.Error("receipt collision: gateway replayed a receipt onto a second transaction; manual review required",
				"receipt_number", cb.ReceiptNumber,
				"holder_transaction_id", holder.ID,
				"transaction_id", tx.ID)
		} else {
			receiptVal := cb.ReceiptNumber
			receipt = &receiptVal
		}
	}

	resultCode := cb.ResultCode
	resultDesc := cb.ResultDesc
	won, err := r.repo.MarkTerminal(tx.ID, target, &resultCode, &resultDesc, receipt, cb.Raw, time.Now())
	if err != nil {
		return fmt.Errorf("terminal transition failed for transaction %s: %w", tx.ID, err)
	}
	if !won {
		r.logger.Info("callback lost the transition race, no-op",
			"transaction_id", tx.ID,
			"result_code", cb.ResultCode)
		return nil
	}

	r.logger.Info("transaction settled from callback",
		"transaction_id", tx.ID,
		"order_id", tx.OrderID,
		"state", target,
		"result_code", cb.ResultCode)

	r.finalize(ctx, tx, target, resultCode, resultDesc, receipt)
	return nil
}

func (r *Reconciler) lookup(cb *Callback) (*transaction.Transaction, error) {
	if cb.CheckoutRequestID != "" {
		tx, err := r.repo.GetByCorrelationID(cb.CheckoutRequestID)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup failed: %w", err)
		}
		if tx != nil {
			return tx, nil
		}
	}
	if cb.MerchantRequestID != "" {
		tx, err := r.repo.GetByMerchantRequestID(cb.MerchantRequestID)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup failed: %w", err)
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, nil
}

// ExpireIfStale moves a non-terminal transaction past the freshness window
// to timeout. Returns whether this caller performed the transition.
func (r *Reconciler) ExpireIfStale(ctx context.Context, tx *transaction.Transaction) (bool, error) {
	if !tx.Stale(r.freshnessWindow, time.Now()) {
		return false, nil
	}

	won, err := r.repo.MarkTerminal(tx.ID, transaction.StateTimeout, nil, nil, nil, nil, time.Now())
	if err != nil {
		return false, fmt.Errorf("timeout transition failed for transaction %s: %w", tx.ID, err)
	}
	if !won {
		return false, nil
	}

	r.logger.Info("transaction timed out waiting for callback",
		"transaction_id", tx.ID,
		"order_id", tx.OrderID,
		"correlation_id", tx.CorrelationID)

	r.finalize(ctx, tx, transaction.StateTimeout, 0, "", nil)
	return true, nil
}

// SweepStale settles attempts that outlived the freshness window. The
// gateway is queried first so a lost callback recovers the real outcome;
// only when the gateway has nothing final does the attempt time out.
func (r *Reconciler) SweepStale(ctx context.Context) (int, error) {
	stale, err := r.repo.ListStaleNonTerminal(time.Now().Add(-r.freshnessWindow), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("stale listing failed: %w", err)
	}

	settled := 0
	for _, tx := range stale {
		query, err := r.gateway.QueryStatus(ctx, tx.CorrelationID)
		if err == nil && !query.Pending {
			target := transaction.TerminalStateFor(query.ResultCode, r.cancelResultCode)
			resultCode := query.ResultCode
			resultDesc := query.ResultDesc
			won, err := r.repo.MarkTerminal(tx.ID, target, &resultCode, &resultDesc, nil, nil, time.Now())
			if err != nil {
				r.logger.Error("sweep transition failed", "transaction_id", tx.ID, "error", err)
				continue
			}
			if won {
				r.logger.Info("lost callback recovered via gateway query",
					"transaction_id", tx.ID,
					"order_id", tx.OrderID,
					"state", target,
					"result_code", query.ResultCode)
				r.finalize(ctx, tx, target, resultCode, resultDesc, nil)
				settled++
			}
			continue
		}

		if err != nil {
			r.logger.Warn("gateway query failed during sweep, timing out",
				"transaction_id", tx.ID, "error", err)
		}
		won, err := r.ExpireIfStale(ctx, tx)
		if err != nil {
			r.logger.Error("sweep expiry failed", "transaction_id", tx.ID, "error", err)
			continue
		}
		if won {
			settled++
		}
	}

	return settled, nil
}

// finalize runs the once-per-transition side effects: the idempotent order
// payment-state push, one status-history entry, and the terminal event.
// Only the transition winner reaches here.
func (r *Reconciler) finalize(ctx context.Context, tx *transaction.Transaction, state transaction.State, resultCode int, resultDesc string, receipt *string) {
	orderState, event := r.outcomeFor(tx, state, resultCode, resultDesc, receipt)

	if err := r.orders.MarkPaymentState(ctx, tx.OrderID, orderState, receipt); err != nil {
		r.logger.Error("order payment state update failed; manual reconciliation required",
			"order_id", tx.OrderID,
			"transaction_id", tx.ID,
			"payment_state", orderState,
			"error", err)
	}

	note := resultDesc
	if note == "" && state == transaction.StateTimeout {
		note = "no gateway callback within the freshness window"
	}
	if err := r.orders.AppendStatusHistory(ctx, tx.OrderID, "payment_"+string(state), note); err != nil {
		r.logger.Error("status history append failed",
			"order_id", tx.OrderID,
			"transaction_id", tx.ID,
			"error", err)
	}

	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Error("terminal event publish failed",
			"transaction_id", tx.ID,
			"event_type", event.EventType(),
			"error", err)
	}
}

func (r *Reconciler) outcomeFor(tx *transaction.Transaction, state transaction.State, resultCode int, resultDesc string, receipt *string) (order.PaymentState, events.Event) {
	switch state {
	case transaction.StateCompleted:
		receiptVal := ""
		if receipt != nil {
			receiptVal = *receipt
		}
		return order.PaymentStateCompleted,
			events.NewPaymentCompletedEvent(tx.ID, tx.OrderID, tx.CorrelationID, tx.PayerPhone, tx.Amount, receiptVal)
	case transaction.StateCancelled:
		return order.PaymentStateCancelled,
			events.NewPaymentCancelledEvent(tx.ID, tx.OrderID, tx.CorrelationID, tx.PayerPhone, tx.Amount, resultCode, resultDesc)
	case transaction.StateTimeout:
		return order.PaymentStateTimedOut,
			events.NewPaymentTimedOutEvent(tx.ID, tx.OrderID, tx.CorrelationID, tx.PayerPhone, tx.Amount)
	default:
		return order.PaymentStateFailed,
			events.NewPaymentFailedEvent(tx.ID, tx.OrderID, tx.CorrelationID, tx.PayerPhone, tx.Amount, resultCode, resultDesc)
	}
}
