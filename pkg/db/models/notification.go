package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Notification stores in-app notification payloads scoped to users. DedupeKey
// carries a unique tag (payment:<id>:completed) so a replayed activation
// cannot insert a second completion notice.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID              `gorm:"type:uuid;not null"`
	Type      enums.NotificationType `gorm:"type:notification_type;not null"`
	Title     string                 `gorm:"type:text;not null"`
	Message   string                 `gorm:"type:text;not null"`
	Link      *string                `gorm:"type:text"`
	DedupeKey *string                `gorm:"type:text;uniqueIndex"`
	ReadAt    *time.Time             `gorm:"type:timestamptz"`
	CreatedAt time.Time              `gorm:"type:timestamptz;default:now()"`
}
