package courses

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mcourselabs/mcourse-backend/pkg/db/models"
)

// Repository defines catalog reads the order builder depends on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Course, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a courses repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var course models.Course
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Course
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
