package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/pkg/enums"
)

// Enrollment grants a user durable access to one course. The (user_id,
// course_id) unique constraint is the invariant the activator leans on: a
// second purchase of the same course, or a racing activation, inserts nothing.
type Enrollment struct {
	ID         uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_enrollments_user_course"`
	CourseID   uuid.UUID              `gorm:"column:course_id;type:uuid;not null;uniqueIndex:ux_enrollments_user_course"`
	Status     enums.EnrollmentStatus `gorm:"column:status;type:enrollment_status;not null;default:'active'"`
	EnrolledAt time.Time              `gorm:"column:enrolled_at;type:timestamptz;not null"`
	CreatedAt  time.Time              `gorm:"column:created_at;autoCreateTime"`
}
