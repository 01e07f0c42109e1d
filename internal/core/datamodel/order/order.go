package order

import (
	"time"
)

type PaymentState string

const (
	PaymentStateUnpaid     PaymentState = "unpaid"
	PaymentStateProcessing PaymentState = "processing"
	PaymentStateCompleted  PaymentState = "completed"
	PaymentStateFailed     PaymentState = "failed"
	PaymentStateCancelled  PaymentState = "cancelled"
	PaymentStateTimedOut   PaymentState = "timed_out"
)

// Order is the slice of the storefront order this service reads and writes.
// Catalog, delivery and customer modeling live with the storefront.
type Order struct {
	ID            int64        `json:"id" gorm:"primaryKey"`
	Reference     string       `json:"reference" gorm:"column:reference;not null;uniqueIndex"`
	CustomerPhone string       `json:"customer_phone" gorm:"column:customer_phone"`
	TotalAmount   int64        `json:"total_amount" gorm:"column:total_amount;not null"`
	PaymentState  PaymentState `json:"payment_state" gorm:"column:payment_state;default:unpaid"`
	ReceiptNumber *string      `json:"receipt_number,omitempty" gorm:"column:receipt_number"`
	CreatedAt     time.Time    `json:"created_at" gorm:"column:created_at"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Payable reports whether a new payment attempt may be started.
func (o *Order) Payable() bool {
	return o.PaymentState != PaymentStateCompleted
}

// StatusHistory is the append-only order timeline shown to support staff.
// Entries must be written at most once per terminal payment transition.
type StatusHistory struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	OrderReference string    `json:"order_reference" gorm:"column:order_reference;not null;index"`
	Status         string    `json:"status" gorm:"column:status;not null"`
	Note           string    `json:"note" gorm:"column:note"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
}

func (StatusHistory) TableName() string {
	return "order_status_history"
}
