package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

type AvailabilityRepository interface {
	// Все еженедельные окна эксперта.
	ListWeekly(ctx context.Context, expertID uuid.UUID) ([]model.WeeklyAvailability, error)
	// Включённые окна эксперта на день недели, по возрастанию start_time.
	ListWeeklyForDay(ctx context.Context, expertID uuid.UUID, day time.Weekday) ([]model.WeeklyAvailability, error)
	// Полностью заменить еженедельное расписание. Вызывать внутри транзакции.
	ReplaceWeekly(ctx context.Context, expertID uuid.UUID, rows []model.WeeklyAvailability) error

	// Исключение на дату; nil, если его нет. date: полночь UTC календарной даты.
	GetOverride(ctx context.Context, expertID uuid.UUID, date time.Time) (*model.DateOverride, error)
	UpsertOverride(ctx context.Context, o *model.DateOverride) error
	DeleteOverride(ctx context.Context, expertID uuid.UUID, date time.Time) (bool, error)
	ListOverrides(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]model.DateOverride, error)
}

type GormAvailabilityRepository struct {
	db *gorm.DB
}

func NewGormAvailabilityRepository(db *gorm.DB) *GormAvailabilityRepository {
	return &GormAvailabilityRepository{db: db}
}

func (r *GormAvailabilityRepository) ListWeekly(ctx context.Context, expertID uuid.UUID) ([]model.WeeklyAvailability, error) {
	var rows []model.WeeklyAvailability
	err := r.db.WithContext(ctx).
		Where("expert_id = ?", expertID).
		Order("day_of_week ASC, start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormAvailabilityRepository) ListWeeklyForDay(
	ctx context.Context,
	expertID uuid.UUID,
	day time.Weekday,
) ([]model.WeeklyAvailability, error) {
	var rows []model.WeeklyAvailability
	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND day_of_week = ? AND is_available = ?", expertID, int(day), true).
		Order("start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormAvailabilityRepository) ReplaceWeekly(
	ctx context.Context,
	expertID uuid.UUID,
	rows []model.WeeklyAvailability,
) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("expert_id = ?", expertID).Delete(&model.WeeklyAvailability{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return db.Create(&rows).Error
}

func (r *GormAvailabilityRepository) GetOverride(
	ctx context.Context,
	expertID uuid.UUID,
	date time.Time,
) (*model.DateOverride, error) {
	var o model.DateOverride
	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND date = ?", expertID, datatypes.Date(date)).
		Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpsertOverride создаёт или обновляет исключение на дату и перечитывает строку:
// при конфликте o получает ID и CreatedAt уже существующей записи.
func (r *GormAvailabilityRepository) UpsertOverride(ctx context.Context, o *model.DateOverride) error {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "expert_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_available", "reason", "updated_at"}),
	}).Create(o).Error
	if err != nil {
		return err
	}
	var stored model.DateOverride
	if err := db.Where("expert_id = ? AND date = ?", o.ExpertID, o.Date).Take(&stored).Error; err != nil {
		return err
	}
	*o = stored
	return nil
}

func (r *GormAvailabilityRepository) DeleteOverride(ctx context.Context, expertID uuid.UUID, date time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("expert_id = ? AND date = ?", expertID, datatypes.Date(date)).
		Delete(&model.DateOverride{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormAvailabilityRepository) ListOverrides(
	ctx context.Context,
	expertID uuid.UUID,
	from, to time.Time,
) ([]model.DateOverride, error) {
	var rows []model.DateOverride
	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND date >= ? AND date <= ?", expertID, datatypes.Date(from), datatypes.Date(to)).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
