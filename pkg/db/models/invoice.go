package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Invoice is one purchased course's line item under a payment. An invoice is
// only ever marked paid by the enrollment activator inside the winning
// transition's transaction, so paid implies the parent payment completed.
type Invoice struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	CourseID    uuid.UUID           `gorm:"column:course_id;type:uuid;not null"`
	PaymentID   uuid.UUID           `gorm:"column:payment_id;type:uuid;not null;index"`
	AmountCents int64               `gorm:"column:amount_cents;not null"`
	Status      enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	PaidAt      *time.Time          `gorm:"column:paid_at;type:timestamptz"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
