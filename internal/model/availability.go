package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultSlotDurationMinutes используется, если окно не задаёт длительность слота.
const DefaultSlotDurationMinutes = 30

// WeeklyAvailability: еженедельное окно доступности эксперта.
// DayOfWeek: 0 = воскресенье ... 6 = суббота (как time.Weekday).
type WeeklyAvailability struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExpertID uuid.UUID `gorm:"type:uuid;not null;index:idx_weekly_availability_expert_day,priority:1"`

	DayOfWeek int `gorm:"not null;index:idx_weekly_availability_expert_day,priority:2"`

	// Локальное время начала/конца окна (в часовом поясе расписания).
	StartTime datatypes.Time `gorm:"not null"`
	EndTime   datatypes.Time `gorm:"not null"`

	SlotDurationMinutes int  `gorm:"not null"`
	IsAvailable         bool `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (w *WeeklyAvailability) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// StartOffset и EndOffset: смещение от полуночи.
func (w WeeklyAvailability) StartOffset() time.Duration { return time.Duration(w.StartTime) }
func (w WeeklyAvailability) EndOffset() time.Duration   { return time.Duration(w.EndTime) }

// DateOverride включает или выключает конкретную дату целиком.
// Часы работы при IsAvailable=true всё равно берутся из WeeklyAvailability.
type DateOverride struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ExpertID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:ux_date_overrides_expert_date,priority:1"`
	Date     datatypes.Date `gorm:"not null;uniqueIndex:ux_date_overrides_expert_date,priority:2"`

	IsAvailable bool   `gorm:"not null"`
	Reason      string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *DateOverride) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
