package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ExpertProfile: профиль эксперта. Первичный ключ совпадает с идентификатором пользователя.
//
// Rating и TotalReviews меняются только вместе, атомарным UPDATE
// (см. repository.ExpertRepository.ApplyRating).
type ExpertProfile struct {
	UserID uuid.UUID `gorm:"type:uuid;primaryKey"`

	DisplayName    string `gorm:"type:varchar(255);not null"`
	Specialization string `gorm:"type:varchar(255)"`

	// Стоимость за каждые 30 минут консультации.
	ConsultationFee decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'INR'"`

	Languages datatypes.JSONSlice[string]

	Rating             float64 `gorm:"not null;default:0"`
	TotalReviews       int     `gorm:"not null;default:0"`
	TotalConsultations int     `gorm:"not null;default:0"`

	IsVerified bool `gorm:"not null"`
	IsActive   bool `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
