package postgres

import (
	"errors"
	"time"

	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/order"
	orderpkg "github.com/fastgas/payment-reconciliation/internal/order"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) orderpkg.RepositoryAPI {
	return &OrderRepository{
		db: db,
	}
}

func (r *OrderRepository) GetByReference(reference string) (*order.Order, error) {
	var ord order.Order
	err := r.db.Where("reference = ?", reference).First(&ord).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ord, nil
}

func (r *OrderRepository) UpdatePaymentState(reference string, state order.PaymentState, receipt *string) error {
	updates := map[string]interface{}{
		"payment_state": state,
		"updated_at":    time.Now(),
	}
	if receipt != nil {
		updates["receipt_number"] = *receipt
	}

	return r.db.Model(&order.Order{}).
		Where("reference = ?", reference).
		Updates(updates).Error
}

func (r *OrderRepository) CreateStatusHistory(entry *order.StatusHistory) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.db.Create(entry).Error
}
