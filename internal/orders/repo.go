package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/pkg/db"
	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *repository) CreateInvoices(ctx context.Context, invoices []models.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&invoices).Error
}

func (r *repository) SetTxnRef(ctx context.Context, paymentID uuid.UUID, txnRef string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("txn_ref", txnRef).Error
	if db.IsUniqueViolation(err, "ux_payments_txn_ref") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transfer reference already assigned")
	}
	return err
}
