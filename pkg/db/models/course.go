package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Course is the priced catalog row the order builder resolves against.
// Currency is stored explicitly per course; prices are never inferred from
// magnitude.
type Course struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title      string         `gorm:"column:title;type:text;not null"`
	PriceCents int64          `gorm:"column:price_cents;not null"`
	Currency   enums.Currency `gorm:"column:currency;type:char(3);not null;default:'VND'"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
