package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

// EventRepository: журнал аудита переходов.
type EventRepository interface {
	Record(ctx context.Context, e *model.ConsultationEvent) error
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]model.ConsultationEvent, error)
}

type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

func (r *GormEventRepository) Record(ctx context.Context, e *model.ConsultationEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *GormEventRepository) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]model.ConsultationEvent, error) {
	var rows []model.ConsultationEvent
	err := r.db.WithContext(ctx).
		Where("consultation_id = ?", consultationID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
