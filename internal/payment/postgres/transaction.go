package postgres

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fastgas/payment-reconciliation/internal/core/datamodel/transaction"
	paymentpkg "github.com/fastgas/payment-reconciliation/internal/payment"
	"gorm.io/gorm"
)

// activeOrderIndex is the partial unique index enforcing at most one
// non-terminal attempt per order. Created in the migrations; violation is
// how concurrent initiations collapse to a single attempt.
const activeOrderIndex = "idx_transactions_active_order"

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &TransactionRepository{
		db: db,
	}
}

func (r *TransactionRepository) Create(tx *transaction.Transaction) error {
	err := r.db.Create(tx).Error
	if err != nil && isActiveOrderConflict(err) {
		return paymentpkg.ErrDuplicateActiveAttempt
	}
	return err
}

func (r *TransactionRepository) GetByID(id string) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := r.db.Where("id = ?", id).First(&tx).Error
	return oneOrNil(&tx, err)
}

func (r *TransactionRepository) GetByCorrelationID(correlationID string) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := r.db.Where("correlation_id = ?", correlationID).First(&tx).Error
	return oneOrNil(&tx, err)
}

func (r *TransactionRepository) GetByMerchantRequestID(merchantRequestID string) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := r.db.Where("merchant_request_id = ?", merchantRequestID).First(&tx).Error
	return oneOrNil(&tx, err)
}

func (r *TransactionRepository) GetByReceipt(receipt string) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := r.db.Where("receipt_number = ?", receipt).First(&tx).Error
	return oneOrNil(&tx, err)
}

func (r *TransactionRepository) GetNonTerminalByOrderID(orderID string) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := r.db.Where("order_id = ? AND state IN ?", orderID, transaction.NonTerminalStates).
		Order("created_at DESC").First(&tx).Error
	return oneOrNil(&tx, err)
}

func (r *TransactionRepository) GetLatestByOrderID(orderID string) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	err := r.db.Where("order_id = ?", orderID).Order("created_at DESC").First(&tx).Error
	return oneOrNil(&tx, err)
}

func (r *TransactionRepository) ActivatePending(id string) error {
	return r.db.Model(&transaction.Transaction{}).
		Where("id = ? AND state = ?", id, transaction.StateInitiated).
		Update("state", transaction.StatePending).Error
}

// MarkTerminal is the single conditional update every terminal transition
// goes through. The state only changes while still non-terminal; the
// returned flag tells the caller whether it won and owns the side effects.
func (r *TransactionRepository) MarkTerminal(id string, state transaction.State, resultCode *int, resultDescription *string, receipt *string, rawCallback json.RawMessage, finalizedAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"state":        state,
		"finalized_at": finalizedAt,
		"updated_at":   time.Now(),
	}
	if resultCode != nil {
		updates["result_code"] = *resultCode
	}
	if resultDescription != nil {
		updates["result_description"] = *resultDescription
	}
	if receipt != nil {
		updates["receipt_number"] = *receipt
	}
	if rawCallback != nil {
		updates["raw_callback"] = rawCallback
	}

	res := r.db.Model(&transaction.Transaction{}).
		Where("id = ? AND state IN ?", id, transaction.NonTerminalStates).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *TransactionRepository) ListStaleNonTerminal(olderThan time.Time, limit int) ([]*transaction.Transaction, error) {
	var txs []*transaction.Transaction
	err := r.db.Where("state IN ? AND created_at < ?", transaction.NonTerminalStates, olderThan).
		Order("created_at ASC").Limit(limit).Find(&txs).Error
	return txs, err
}

func oneOrNil(tx *transaction.Transaction, err error) (*transaction.Transaction, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

func isActiveOrderConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// postgres: duplicate key value violates unique constraint "idx_..."
	if strings.Contains(msg, activeOrderIndex) {
		return true
	}
	// sqlite names the indexed column rather than the index
	return strings.Contains(msg, "UNIQUE constraint failed: transactions.order_id")
}
