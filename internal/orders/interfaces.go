package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
)

// Repository defines persistence operations for checkout rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	CreateInvoices(ctx context.Context, invoices []models.Invoice) error
	SetTxnRef(ctx context.Context, paymentID uuid.UUID, txnRef string) error
}
