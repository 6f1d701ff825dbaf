package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

type ExpertRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.ExpertProfile, error)
	// Получить профиль с блокировкой строки (SELECT ... FOR UPDATE).
	// Используется как мьютекс эксперта при бронировании.
	LockByUserID(ctx context.Context, userID uuid.UUID) (*model.ExpertProfile, error)
	// Создать или обновить профиль. Рейтинг и счётчики не трогаются.
	Upsert(ctx context.Context, p *model.ExpertProfile) error
	// Атомарно добавить оценку и вернуть новый рейтинг и число отзывов.
	ApplyRating(ctx context.Context, userID uuid.UUID, value int) (float64, int, error)
	IncrementConsultations(ctx context.Context, userID uuid.UUID) error
}

type GormExpertRepository struct {
	db *gorm.DB
}

func NewGormExpertRepository(db *gorm.DB) *GormExpertRepository {
	return &GormExpertRepository{db: db}
}

func (r *GormExpertRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.ExpertProfile, error) {
	var p model.ExpertProfile
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormExpertRepository) LockByUserID(ctx context.Context, userID uuid.UUID) (*model.ExpertProfile, error) {
	var p model.ExpertProfile
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormExpertRepository) Upsert(ctx context.Context, p *model.ExpertProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "specialization", "consultation_fee", "currency",
				"languages", "is_active", "updated_at",
			}),
		}).
		Create(p).Error
}

func (r *GormExpertRepository) ApplyRating(ctx context.Context, userID uuid.UUID, value int) (float64, int, error) {
	res := r.db.WithContext(ctx).
		Model(&model.ExpertProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			// В одном UPDATE обе правые части читают старые значения строки.
			"rating":        gorm.Expr("(rating * total_reviews + ?) / (total_reviews + 1)", float64(value)),
			"total_reviews": gorm.Expr("total_reviews + 1"),
		})
	if res.Error != nil {
		return 0, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, 0, gorm.ErrRecordNotFound
	}

	var p model.ExpertProfile
	if err := r.db.WithContext(ctx).
		Select("rating", "total_reviews").
		First(&p, "user_id = ?", userID).Error; err != nil {
		return 0, 0, err
	}
	return p.Rating, p.TotalReviews, nil
}

func (r *GormExpertRepository) IncrementConsultations(ctx context.Context, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&model.ExpertProfile{}).
		Where("user_id = ?", userID).
		Update("total_consultations", gorm.Expr("total_consultations + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
