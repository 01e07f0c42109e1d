package payment

import (
	"context"
	"log/slog"
	"time"

	errors "github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/core/common/validation"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
	"github.com/fastgas/payment-reconciliation/internal/paymentgateway"
	"github.com/google/uuid"
)

// TimeoutExpirer applies the timeout transition with its gated side effects.
// Implemented by the Reconciler so all terminal transitions share one path.
type TimeoutExpirer interface {
	ExpireIfStale(ctx context.Context, tx *transaction.Transaction) (bool, error)
}

// Service owns payment initiation and status polling.
type Service struct {
	repo            RepositoryAPI
	gateway         GatewayAPI
	orders          OrderAPI
	expirer         TimeoutExpirer
	freshnessWindow time.Duration
	logger          *slog.Logger
}

func NewService(repo RepositoryAPI, gateway GatewayAPI, orders OrderAPI, expirer TimeoutExpirer, freshnessWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:            repo,
		gateway:         gateway,
		orders:          orders,
		expirer:         expirer,
		freshnessWindow: freshnessWindow,
		logger:          logger,
	}
}

// Initiate starts an STK push for an order, deduplicating against any fresh
// attempt already in flight for the same order.
func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	if err := req.Validate(); err != nil {
		s.logger.Warn("initiate request validation failed", "order_id", req.OrderID, "error", err)
		return nil, err
	}

	msisdn, err := validation.NormalizeMSISDN(req.PhoneNumber)
	if err != nil {
		return nil, errors.NewValidationFieldError("phone_number", err.Error(), errors.ErrCodeInvalidPhone)
	}

	ord, err := s.orders.FindByReference(ctx, req.OrderID)
	if err != nil {
		s.logger.Warn("order lookup failed for initiation", "order_id", req.OrderID, "error", err)
		if _, ok := errors.IsAppError(err); ok {
			return nil, err
		}
		return nil, errors.NewInternalError("failed to resolve order", err)
	}
	if !ord.Payable() {
		return nil, errors.ErrOrderNotPayable
	}

	existing, err := s.repo.GetNonTerminalByOrderID(req.OrderID)
	if err != nil {
		return nil, errors.NewInternalError("failed to check for active payment attempts", err)
	}
	if existing != nil {
		if !existing.Stale(s.freshnessWindow, time.Now()) {
			s.logger.Info("returning in-flight attempt for re-submitted order",
				"order_id", req.OrderID,
				"transaction_id", existing.ID,
				"correlation_id", existing.CorrelationID)
			return &InitiateResponse{
				TransactionID: existing.ID,
				CorrelationID: existing.CorrelationID,
				State:         string(existing.State),
				Deduplicated:  true,
			}, nil
		}

		expired, err := s.expirer.ExpireIfStale(ctx, existing)
		if err != nil {
			return nil, errors.NewInternalError("failed to expire stale payment attempt", err)
		}
		if !expired {
			// a callback beat us to the terminal transition; re-read to see
			// where it landed
			settled, err := s.repo.GetByID(existing.ID)
			if err != nil {
				return nil, errors.NewInternalError("failed to re-read settled attempt", err)
			}
			if settled != nil && settled.State == transaction.StateCompleted {
				return nil, errors.ErrOrderNotPayable
			}
		}
		s.logger.Info("stale attempt expired, starting a new one",
			"order_id", req.OrderID,
			"previous_transaction_id", existing.ID)
	}

	pushResp, err := s.gateway.STKPush(ctx, &paymentgateway.STKPushRequest{
		PhoneNumber:      msisdn,
		Amount:           req.Amount,
		AccountReference: req.OrderID,
		Description:      "FastGas order " + req.OrderID,
	})
	if err != nil {
		s.logger.Error("gateway push initiation failed",
			"order_id", req.OrderID,
			"error", err)
		return nil, err
	}

	tx := &transaction.Transaction{
		ID:            uuid.NewString(),
		CorrelationID: pushResp.CheckoutRequestID,
		OrderID:       req.OrderID,
		PayerPhone:    msisdn,
		Amount:        req.Amount,
		State:         transaction.StateInitiated,
	}
	if pushResp.MerchantRequestID != "" {
		merchantID := pushResp.MerchantRequestID
		tx.MerchantRequestID = &merchantID
	}

	if err := s.repo.Create(tx); err != nil {
		if err == ErrDuplicateActiveAttempt {
			// a concurrent initiation won the persistence race; hand back the
			// winner's ids so both callers poll the same attempt. Our own
			// accepted push is now untracked and needs manual follow-up.
			s.logger.Error("gateway accepted a push that lost the persistence race; manual reconciliation required",
				"order_id", req.OrderID,
				"untracked_correlation_id", pushResp.CheckoutRequestID)
			winner, werr := s.repo.GetNonTerminalByOrderID(req.OrderID)
			if werr != nil || winner == nil {
				return nil, errors.NewInternalError("failed to resolve concurrent payment attempt", werr)
			}
			return &InitiateResponse{
				TransactionID: winner.ID,
				CorrelationID: winner.CorrelationID,
				State:         string(winner.State),
				Deduplicated:  true,
			}, nil
		}

		// the payer's phone will still ring; losing the correlation id here
		// means the callback will arrive as an orphan
		s.logger.Error("gateway accepted push but ledger persistence failed; manual reconciliation required",
			"order_id", req.OrderID,
			"correlation_id", pushResp.CheckoutRequestID,
			"merchant_request_id", pushResp.MerchantRequestID,
			"error", err)
		return nil, &errors.AppError{
			Type:       errors.ErrorTypeInternal,
			Code:       errors.ErrCodePersistenceFault,
			Message:    "payment was initiated but could not be recorded; do not retry before checking its status",
			StatusCode: 500,
			Cause:      err,
		}
	}

	if err := s.repo.ActivatePending(tx.ID); err != nil {
		// record stays in initiated; the sweep resolves it either way
		s.logger.Error("failed to activate pending state", "transaction_id", tx.ID, "error", err)
	}

	if err := s.orders.MarkPaymentProcessing(ctx, req.OrderID); err != nil {
		s.logger.Error("failed to mark order payment processing", "order_id", req.OrderID, "error", err)
	}

	s.logger.Info("payment attempt initiated",
		"order_id", req.OrderID,
		"transaction_id", tx.ID,
		"correlation_id", tx.CorrelationID,
		"amount", req.Amount)

	return &InitiateResponse{
		TransactionID: tx.ID,
		CorrelationID: tx.CorrelationID,
		State:         string(transaction.StatePending),
	}, nil
}

// StatusByOrder returns the latest attempt for an order, applying the
// timeout transition first if the freshness window has elapsed.
func (s *Service) StatusByOrder(ctx context.Context, orderReference string) (*StatusView, error) {
	tx, err := s.repo.GetLatestByOrderID(orderReference)
	if err != nil {
		return nil, errors.NewInternalError("failed to read ledger", err)
	}
	if tx == nil {
		return nil, errors.ErrTxnNotFound
	}
	return s.statusOf(ctx, tx)
}

// StatusByCorrelationID resolves a poll by the gateway correlation id,
// falling back to the merchant-side id.
func (s *Service) StatusByCorrelationID(ctx context.Context, correlationID string) (*StatusView, error) {
	tx, err := s.repo.GetByCorrelationID(correlationID)
	if err != nil {
		return nil, errors.NewInternalError("failed to read ledger", err)
	}
	if tx == nil {
		tx, err = s.repo.GetByMerchantRequestID(correlationID)
		if err != nil {
			return nil, errors.NewInternalError("failed to read ledger", err)
		}
	}
	if tx == nil {
		return nil, errors.ErrTxnNotFound
	}
	return s.statusOf(ctx, tx)
}

func (s *Service) statusOf(ctx context.Context, tx *transaction.Transaction) (*StatusView, error) {
	if !tx.IsTerminal() && tx.Stale(s.freshnessWindow, time.Now()) {
		if _, err := s.expirer.ExpireIfStale(ctx, tx); err != nil {
			s.logger.Error("failed to expire stale attempt during poll",
				"transaction_id", tx.ID, "error", err)
		}
		refreshed, err := s.repo.GetByID(tx.ID)
		if err == nil && refreshed != nil {
			tx = refreshed
		}
	}
	return ToView(tx), nil
}
