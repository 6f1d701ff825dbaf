package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

type DeviceRepository interface {
	// Зарегистрировать токен. Если токен уже есть, он переходит к новому пользователю.
	Upsert(ctx context.Context, d *model.DeviceToken) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.DeviceToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

type GormDeviceRepository struct {
	db *gorm.DB
}

func NewGormDeviceRepository(db *gorm.DB) *GormDeviceRepository {
	return &GormDeviceRepository{db: db}
}

func (r *GormDeviceRepository) Upsert(ctx context.Context, d *model.DeviceToken) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "updated_at"}),
		}).
		Create(d).Error
}

func (r *GormDeviceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.DeviceToken, error) {
	var rows []model.DeviceToken
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormDeviceRepository) DeleteByToken(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Where("token = ?", token).Delete(&model.DeviceToken{}).Error
}
