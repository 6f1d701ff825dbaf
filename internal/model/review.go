package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Review: отзыв фермера. Не более одного на консультацию, после создания не меняется.
type Review struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConsultationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	FarmerID       uuid.UUID `gorm:"type:uuid;not null;index"`
	ExpertID       uuid.UUID `gorm:"type:uuid;not null;index"`

	Rating         int    `gorm:"not null"`
	ReviewText     string `gorm:"type:text"`
	WasHelpful     *bool
	WouldRecommend *bool

	CreatedAt time.Time
}

func (r *Review) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
