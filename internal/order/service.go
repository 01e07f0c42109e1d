package order

import (
	"context"
	"fmt"
	"log/slog"

	internal "github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/order"
)

// RepositoryAPI is the storefront order store.
type RepositoryAPI interface {
	GetByReference(reference string) (*order.Order, error)
	UpdatePaymentState(reference string, state order.PaymentState, receipt *string) error
	CreateStatusHistory(entry *order.StatusHistory) error
}

// Service exposes the slice of the storefront the payment flow needs:
// resolving an order before initiation and pushing payment outcomes back.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) FindByReference(ctx context.Context, reference string) (*order.Order, error) {
	ord, err := s.repo.GetByReference(reference)
	if err != nil {
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}
	if ord == nil {
		return nil, internal.ErrOrderNotFound
	}
	return ord, nil
}

// MarkPaymentProcessing flags the order while a push is in flight. Best
// effort: the ledger, not the order row, is the source of truth for the
// attempt itself.
func (s *Service) MarkPaymentProcessing(ctx context.Context, reference string) error {
	return s.repo.UpdatePaymentState(reference, order.PaymentStateProcessing, nil)
}

// MarkPaymentState sets the order's payment outcome. Idempotent: replaying
// the same state is a no-op at the row level.
func (s *Service) MarkPaymentState(ctx context.Context, reference string, state order.PaymentState, receipt *string) error {
	if err := s.repo.UpdatePaymentState(reference, state, receipt); err != nil {
		return fmt.Errorf("payment state update failed for order %s: %w", reference, err)
	}

	s.logger.Info("order payment state updated",
		"order_reference", reference,
		"payment_state", state)
	return nil
}

func (s *Service) AppendStatusHistory(ctx context.Context, reference, status, note string) error {
	entry := &order.StatusHistory{
		OrderReference: reference,
		Status:         status,
		Note:           note,
	}
	if err := s.repo.CreateStatusHistory(entry); err != nil {
		return fmt.Errorf("status history append failed for order %s: %w", reference, err)
	}
	return nil
}
