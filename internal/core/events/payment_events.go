package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentCancelled = "payment.cancelled"
	EventTypePaymentTimedOut  = "payment.timed_out"
)

// PaymentTerminalEvent is published exactly once per terminal transition,
// by whichever caller won the conditional state update.
type PaymentTerminalEvent struct {
	BaseEvent
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	CorrelationID     string `json:"correlation_id"`
	PayerPhone        string `json:"payer_phone"`
	Amount            int64  `json:"amount"`
	State             string `json:"state"`
	ResultCode        int    `json:"result_code"`
	ResultDescription string `json:"result_description"`
	ReceiptNumber     string `json:"receipt_number,omitempty"`
}

func newPaymentTerminalEvent(eventType, transactionID, orderID, correlationID, payerPhone string, amount int64, state string, resultCode int, resultDescription, receipt string) *PaymentTerminalEvent {
	return &PaymentTerminalEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id":     transactionID,
				"order_id":           orderID,
				"correlation_id":     correlationID,
				"amount":             amount,
				"state":              state,
				"result_code":        resultCode,
				"result_description": resultDescription,
				"receipt_number":     receipt,
			},
		},
		TransactionID:     transactionID,
		OrderID:           orderID,
		CorrelationID:     correlationID,
		PayerPhone:        payerPhone,
		Amount:            amount,
		State:             state,
		ResultCode:        resultCode,
		ResultDescription: resultDescription,
		ReceiptNumber:     receipt,
	}
}

func NewPaymentCompletedEvent(transactionID, orderID, correlationID, payerPhone string, amount int64, receipt string) *PaymentTerminalEvent {
	return newPaymentTerminalEvent(EventTypePaymentCompleted, transactionID, orderID, correlationID, payerPhone, amount, "completed", 0, "The service request is processed successfully.", receipt)
}

func NewPaymentFailedEvent(transactionID, orderID, correlationID, payerPhone string, amount int64, resultCode int, resultDescription string) *PaymentTerminalEvent {
	return newPaymentTerminalEvent(EventTypePaymentFailed, transactionID, orderID, correlationID, payerPhone, amount, "failed", resultCode, resultDescription, "")
}

func NewPaymentCancelledEvent(transactionID, orderID, correlationID, payerPhone string, amount int64, resultCode int, resultDescription string) *PaymentTerminalEvent {
	return newPaymentTerminalEvent(EventTypePaymentCancelled, transactionID, orderID, correlationID, payerPhone, amount, "cancelled", resultCode, resultDescription, "")
}

func NewPaymentTimedOutEvent(transactionID, orderID, correlationID, payerPhone string, amount int64) *PaymentTerminalEvent {
	return newPaymentTerminalEvent(EventTypePaymentTimedOut, transactionID, orderID, correlationID, payerPhone, amount, "timeout", -1, "No callback received within the freshness window.", "")
}
