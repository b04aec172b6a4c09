package enrollments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Repository exposes persistence helpers for invoices and enrollments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindInvoicesByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Invoice, error)
	MarkInvoicesPaid(ctx context.Context, paymentID uuid.UUID, now time.Time) (int64, error)
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Enrollment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an enrollments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindInvoicesByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// MarkInvoicesPaid flips the payment's pending invoices to paid. Invoices
// already paid are left untouched, so replays update zero rows.
func (r *repository) MarkInvoicesPaid(ctx context.Context, paymentID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("payment_id = ? AND status = ?", paymentID, enums.InvoiceStatusPending).
		Updates(map[string]any{"status": enums.InvoiceStatusPaid, "paid_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CreateEnrollment inserts the enrollment unless the user already holds one
// for the course. Reports whether a row was inserted.
func (r *repository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(enrollment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("enrolled_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
