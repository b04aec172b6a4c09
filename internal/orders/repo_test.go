package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	payments := `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  provider TEXT NOT NULL DEFAULT 'sepay',
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'VND',
  status TEXT NOT NULL DEFAULT 'pending',
  order_number INTEGER,
  txn_ref TEXT UNIQUE,
  gateway_txn_id TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	invoices := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  payment_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(payments).Error)
	require.NoError(t, db.Exec(invoices).Error)
	return db
}

func TestRepositoryCreateAndTagPayment(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	payment := &models.Payment{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Provider:    enums.PaymentProviderSepay,
		AmountCents: 250000,
		Currency:    enums.CurrencyVND,
		Status:      enums.PaymentStatusPending,
		OrderNumber: 9,
	}
	_, err := repo.CreatePayment(ctx, payment)
	require.NoError(t, err)

	invs := []models.Invoice{
		{ID: uuid.New(), UserID: payment.UserID, CourseID: uuid.New(), PaymentID: payment.ID, AmountCents: 150000, Status: enums.InvoiceStatusPending},
		{ID: uuid.New(), UserID: payment.UserID, CourseID: uuid.New(), PaymentID: payment.ID, AmountCents: 100000, Status: enums.InvoiceStatusPending},
	}
	require.NoError(t, repo.CreateInvoices(ctx, invs))

	require.NoError(t, repo.SetTxnRef(ctx, payment.ID, FormatTxnRef(payment.OrderNumber)))

	var got models.Payment
	require.NoError(t, db.Where("id = ?", payment.ID).First(&got).Error)
	require.NotNil(t, got.TxnRef)
	assert.Equal(t, "MCOURSE9", *got.TxnRef)

	var count int64
	require.NoError(t, db.Model(&models.Invoice{}).Where("payment_id = ?", payment.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestRepositorySetTxnRefUniqueness(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := &models.Payment{ID: uuid.New(), UserID: uuid.New(), AmountCents: 1000, Status: enums.PaymentStatusPending, OrderNumber: 1}
	second := &models.Payment{ID: uuid.New(), UserID: uuid.New(), AmountCents: 2000, Status: enums.PaymentStatusPending, OrderNumber: 2}
	_, err := repo.CreatePayment(ctx, first)
	require.NoError(t, err)
	_, err = repo.CreatePayment(ctx, second)
	require.NoError(t, err)

	require.NoError(t, repo.SetTxnRef(ctx, first.ID, "MCOURSE1"))
	assert.Error(t, repo.SetTxnRef(ctx, second.ID, "MCOURSE1"))
}
