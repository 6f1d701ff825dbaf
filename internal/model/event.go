package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Тип события аудита.
type EventType string

const (
	EventTypeConsultationCreated     EventType = "consultation_created"
	EventTypePaymentConfirmed        EventType = "payment_confirmed"
	EventTypePaymentFailed           EventType = "payment_failed"
	EventTypeConsultationConfirmed   EventType = "consultation_confirmed"
	EventTypeConsultationRejected    EventType = "consultation_rejected"
	EventTypeConsultationStarted     EventType = "consultation_started"
	EventTypeConsultationCompleted   EventType = "consultation_completed"
	EventTypeConsultationCancelled   EventType = "consultation_cancelled"
	EventTypeConsultationNoShow      EventType = "consultation_no_show"
	EventTypeConsultationRescheduled EventType = "consultation_rescheduled"
	EventTypeConsultationExpired     EventType = "consultation_expired"
	EventTypeReviewSubmitted         EventType = "review_submitted"
)

// consultation_events: журнал переходов консультации.
type ConsultationEvent struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	ConsultationID uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType      EventType `gorm:"type:varchar(64);not null;index"`

	FromStatus ConsultationStatus `gorm:"type:varchar(32)"`
	ToStatus   ConsultationStatus `gorm:"type:varchar(32)"`

	// nil: системное действие (например, истечение оплаты).
	ActorID *uuid.UUID `gorm:"type:uuid;index"`

	Details string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
}

func (e *ConsultationEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
