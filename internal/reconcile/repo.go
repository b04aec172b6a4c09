package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Repository defines the payment reads and conditional transitions the engine
// relies on. The two transition statements are the system's only mutual
// exclusion: whoever updates the row first wins, everyone else updates zero
// rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderNumber(ctx context.Context, orderNumber int64) (*models.Payment, error)
	FindByTxnRef(ctx context.Context, txnRef string) (*models.Payment, error)
	CompletePending(ctx context.Context, id uuid.UUID, now time.Time, gatewayTxnID *string) (bool, error)
	ExpirePending(ctx context.Context, id uuid.UUID, createdBefore time.Time) (bool, error)
	ExpirePendingBefore(ctx context.Context, createdBefore time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reconcile repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber int64) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByTxnRef(ctx context.Context, txnRef string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("txn_ref = ?", txnRef).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CompletePending performs the pending to completed transition. Reports false
// when the row was no longer pending.
func (r *repository) CompletePending(ctx context.Context, id uuid.UUID, now time.Time, gatewayTxnID *string) (bool, error) {
	updates := map[string]any{
		"status":  enums.PaymentStatusCompleted,
		"paid_at": now,
	}
	if gatewayTxnID != nil && *gatewayTxnID != "" {
		updates["gateway_txn_id"] = *gatewayTxnID
	}
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExpirePending forecloses one overdue pending payment.
func (r *repository) ExpirePending(ctx context.Context, id uuid.UUID, createdBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ? AND created_at < ?", id, enums.PaymentStatusPending, createdBefore).
		Update("status", enums.PaymentStatusExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExpirePendingBefore forecloses every overdue pending payment in one
// statement and reports how many rows changed.
func (r *repository) ExpirePendingBefore(ctx context.Context, createdBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, createdBefore).
		Update("status", enums.PaymentStatusExpired)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
