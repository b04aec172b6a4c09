package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal identity row payments and enrollments reference. Account
// management lives in a separate service.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	FullName  string    `gorm:"column:full_name;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
