package transaction

import (
	"encoding/json"
	"time"
)

type State string

const (
	// StateInitiated covers the gap between the gateway accepting the push
	// and the record being durably stored. A crash mid-initiation leaves a
	// row here instead of an ambiguous one.
	StateInitiated State = "initiated"
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimeout   State = "timeout"
)

// Terminal reports whether no further transition is permitted from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	}
	return false
}

// NonTerminalStates is the set used by conditional updates: a terminal
// transition only applies while the current state is one of these.
var NonTerminalStates = []State{StateInitiated, StatePending}

// Transaction is one payment attempt in the ledger. Rows are never deleted;
// they are the audit trail for manual reconciliation.
type Transaction struct {
	ID                string          `json:"id" gorm:"primaryKey;size:36"`
	CorrelationID     string          `json:"correlation_id" gorm:"column:correlation_id;not null;uniqueIndex"`
	MerchantRequestID *string         `json:"merchant_request_id,omitempty" gorm:"column:merchant_request_id;index"`
	OrderID           string          `json:"order_id" gorm:"column:order_id;not null;index:idx_transactions_order_state,priority:1"`
	PayerPhone        string          `json:"payer_phone" gorm:"column:payer_phone;not null"`
	Amount            int64           `json:"amount" gorm:"column:amount;not null"`
	State             State           `json:"state" gorm:"column:state;default:initiated;index:idx_transactions_order_state,priority:2"`
	ResultCode        *int            `json:"result_code,omitempty" gorm:"column:result_code"`
	ResultDescription *string         `json:"result_description,omitempty" gorm:"column:result_description"`
	ReceiptNumber     *string         `json:"receipt_number,omitempty" gorm:"column:receipt_number"`
	RawCallback       json.RawMessage `json:"raw_callback,omitempty" gorm:"column:raw_callback;type:jsonb"`
	CreatedAt         time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"column:updated_at"`
	FinalizedAt       *time.Time      `json:"finalized_at,omitempty" gorm:"column:finalized_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) IsTerminal() bool {
	return t.State.Terminal()
}

// Stale reports whether a non-terminal attempt has outlived the freshness
// window with no callback and is eligible for the timeout transition.
func (t *Transaction) Stale(window time.Duration, now time.Time) bool {
	if t.IsTerminal() {
		return false
	}
	return now.Sub(t.CreatedAt) >= window
}

// TerminalStateFor maps a gateway result code to the terminal state it
// implies. The user-cancelled code differs between gateway deployments, so
// it is passed in from configuration rather than hardcoded.
func TerminalStateFor(resultCode, cancelResultCode int) State {
	switch resultCode {
	case 0:
		return StateCompleted
	case cancelResultCode:
		return StateCancelled
	default:
		return StateFailed
	}
}
