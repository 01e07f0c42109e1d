package payment

import (
	"time"

	errors "github.com/fastgas/payment-reconciliation/internal"
	"github.com/fastgas/payment-reconciliation/internal/core/common/validation"
	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
)

// InitiateRequest is the checkout payload for starting an STK push.
type InitiateRequest struct {
	OrderID     string `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
	Amount      int64  `json:"amount"`
}

func (r *InitiateRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("order_id", r.OrderID).Required().MaxLength(64)
	validator.Field("phone_number", r.PhoneNumber).Required().Phone()
	validator.Field("amount", r.Amount).Required().MinInt(1, errors.ErrCodeInvalidAmount)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// InitiateResponse echoes the ids a client needs to poll for the outcome.
// Deduplicated re-submissions receive the ids of the attempt already in
// flight.
type InitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	CorrelationID string `json:"correlation_id"`
	State         string `json:"state"`
	Deduplicated  bool   `json:"deduplicated,omitempty"`
}

// StatusView is the polling representation of a ledger record.
type StatusView struct {
	TransactionID     string     `json:"transaction_id"`
	OrderID           string     `json:"order_id"`
	CorrelationID     string     `json:"correlation_id"`
	State             string     `json:"state"`
	Amount            int64      `json:"amount"`
	ResultCode        *int       `json:"result_code,omitempty"`
	ResultDescription *string    `json:"result_description,omitempty"`
	ReceiptNumber     *string    `json:"receipt_number,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
}

func ToView(tx *transaction.Transaction) *StatusView {
	if tx == nil {
		return nil
	}
	return &StatusView{
		TransactionID:     tx.ID,
		OrderID:           tx.OrderID,
		CorrelationID:     tx.CorrelationID,
		State:             string(tx.State),
		Amount:            tx.Amount,
		ResultCode:        tx.ResultCode,
		ResultDescription: tx.ResultDescription,
		ReceiptNumber:     tx.ReceiptNumber,
		CreatedAt:         tx.CreatedAt,
		FinalizedAt:       tx.FinalizedAt,
	}
}
