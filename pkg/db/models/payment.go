package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Payment is the top-level settlement record for one checkout attempt.
// AmountCents is fixed at creation and never mutated; status changes only
// through the conditional transition the reconciliation engine issues. Rows
// are never deleted.
type Payment struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	Provider     enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null;default:'sepay'"`
	AmountCents  int64                 `gorm:"column:amount_cents;not null"`
	Currency     enums.Currency        `gorm:"column:currency;type:char(3);not null;default:'VND'"`
	Status       enums.PaymentStatus   `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	OrderNumber  int64                 `gorm:"column:order_number;autoIncrement;uniqueIndex"`
	TxnRef       *string               `gorm:"column:txn_ref;type:text;uniqueIndex"`
	GatewayTxnID *string               `gorm:"column:gateway_txn_id;type:text"`
	PaidAt       *time.Time            `gorm:"column:paid_at;type:timestamptz"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Invoices []Invoice `gorm:"foreignKey:PaymentID"`
}
