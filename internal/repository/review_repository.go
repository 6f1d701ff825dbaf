package repository

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

// ReviewSort: порядок выдачи отзывов эксперта.
type ReviewSort string

const (
	ReviewSortRecent  ReviewSort = "recent"
	ReviewSortOldest  ReviewSort = "oldest"
	ReviewSortHighest ReviewSort = "highest"
	ReviewSortLowest  ReviewSort = "lowest"
)

var reviewOrder = map[ReviewSort]string{
	ReviewSortRecent:  "created_at DESC, id",
	ReviewSortOldest:  "created_at ASC, id",
	ReviewSortHighest: "rating DESC, created_at DESC, id",
	ReviewSortLowest:  "rating ASC, created_at DESC, id",
}

func (s ReviewSort) Valid() bool {
	_, ok := reviewOrder[s]
	return ok
}

// ReviewStats: агрегаты по всем отзывам эксперта.
type ReviewStats struct {
	Total   int64
	Average float64 // округлено до сотых; 0 без отзывов
	// ByStars[i]: число отзывов с оценкой i+1.
	ByStars     [5]int64
	Helpful     int64
	Recommended int64
}

type ReviewRepository interface {
	Create(ctx context.Context, r *model.Review) error
	// Отзыв по консультации; nil, если его нет.
	GetByConsultationID(ctx context.Context, consultationID uuid.UUID) (*model.Review, error)
	ListByExpert(ctx context.Context, expertID uuid.UUID, sort ReviewSort, limit, offset int) ([]model.Review, error)
	StatsByExpert(ctx context.Context, expertID uuid.UUID) (ReviewStats, error)
}

type GormReviewRepository struct {
	db *gorm.DB
}

func NewGormReviewRepository(db *gorm.DB) *GormReviewRepository {
	return &GormReviewRepository{db: db}
}

func (r *GormReviewRepository) Create(ctx context.Context, review *model.Review) error {
	return r.db.WithContext(ctx).Create(review).Error
}

func (r *GormReviewRepository) GetByConsultationID(ctx context.Context, consultationID uuid.UUID) (*model.Review, error) {
	var review model.Review
	err := r.db.WithContext(ctx).Take(&review, "consultation_id = ?", consultationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *GormReviewRepository) ListByExpert(
	ctx context.Context,
	expertID uuid.UUID,
	sort ReviewSort,
	limit, offset int,
) ([]model.Review, error) {
	order, ok := reviewOrder[sort]
	if !ok {
		order = reviewOrder[ReviewSortRecent]
	}
	q := r.db.WithContext(ctx).Where("expert_id = ?", expertID).Order(order)
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	var rows []model.Review
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormReviewRepository) StatsByExpert(ctx context.Context, expertID uuid.UUID) (ReviewStats, error) {
	var row struct {
		Total       int64
		Average     float64
		OneStar     int64
		TwoStar     int64
		ThreeStar   int64
		FourStar    int64
		FiveStar    int64
		Helpful     int64
		Recommended int64
	}
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Select(`COUNT(*) AS total,
			COALESCE(AVG(rating), 0) AS average,
			COUNT(CASE WHEN rating = 1 THEN 1 END) AS one_star,
			COUNT(CASE WHEN rating = 2 THEN 1 END) AS two_star,
			COUNT(CASE WHEN rating = 3 THEN 1 END) AS three_star,
			COUNT(CASE WHEN rating = 4 THEN 1 END) AS four_star,
			COUNT(CASE WHEN rating = 5 THEN 1 END) AS five_star,
			COUNT(CASE WHEN was_helpful = ? THEN 1 END) AS helpful,
			COUNT(CASE WHEN would_recommend = ? THEN 1 END) AS recommended`, true, true).
		Where("expert_id = ?", expertID).
		Scan(&row).Error
	if err != nil {
		return ReviewStats{}, err
	}
	return ReviewStats{
		Total:       row.Total,
		Average:     math.Round(row.Average*100) / 100,
		ByStars:     [5]int64{row.OneStar, row.TwoStar, row.ThreeStar, row.FourStar, row.FiveStar},
		Helpful:     row.Helpful,
		Recommended: row.Recommended,
	}, nil
}
