package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/order"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
	"github.com/fastgas/payment-reconciliation/internal/paymentgateway"
)

// ErrDuplicateActiveAttempt is returned by RepositoryAPI.Create when the
// partial unique index rejects a second non-terminal attempt for the same
// order. The initiation service resolves it by returning the winner's ids.
var ErrDuplicateActiveAttempt = errors.New("an active payment attempt already exists for this order")

// RepositoryAPI is the ledger. Terminal transitions are conditional updates:
// they report whether this caller performed the transition, so side effects
// run exactly once under concurrent delivery.
type RepositoryAPI interface {
	Create(tx *transaction.Transaction) error
	GetByID(id string) (*transaction.Transaction, error)
	GetByCorrelationID(correlationID string) (*transaction.Transaction, error)
	GetByMerchantRequestID(merchantRequestID string) (*transaction.Transaction, error)
	GetByReceipt(receipt string) (*transaction.Transaction, error)
	GetNonTerminalByOrderID(orderID string) (*transaction.Transaction, error)
	GetLatestByOrderID(orderID string) (*transaction.Transaction, error)
	ActivatePending(id string) error
	MarkTerminal(id string, state transaction.State, resultCode *int, resultDescription *string, receipt *string, rawCallback json.RawMessage, finalizedAt time.Time) (bool, error)
	ListStaleNonTerminal(olderThan time.Time, limit int) ([]*transaction.Transaction, error)
}

// GatewayAPI is the mobile-money push-payment client.
type GatewayAPI interface {
	STKPush(ctx context.Context, req *paymentgateway.STKPushRequest) (*paymentgateway.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*paymentgateway.QueryResponse, error)
}

// OrderAPI is the storefront order collaborator. MarkPaymentState is
// idempotent; AppendStatusHistory is not and must only be called by the
// winner of a terminal transition.
type OrderAPI interface {
	FindByReference(ctx context.Context, reference string) (*order.Order, error)
	MarkPaymentProcessing(ctx context.Context, reference string) error
	MarkPaymentState(ctx context.Context, reference string, state order.PaymentState, receipt *string) error
	AppendStatusHistory(ctx context.Context, reference, status, note string) error
}

// ServiceAPI is consumed by the HTTP handlers.
type ServiceAPI interface {
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)
	StatusByOrder(ctx context.Context, orderReference string) (*StatusView, error)
	StatusByCorrelationID(ctx context.Context, correlationID string) (*StatusView, error)
}

// ReconcilerAPI applies callback results and expiry to the ledger.
type ReconcilerAPI interface {
	Reconcile(ctx context.Context, cb *Callback) error
	ExpireIfStale(ctx context.Context, tx *transaction.Transaction) (bool, error)
	SweepStale(ctx context.Context) (int, error)
}
