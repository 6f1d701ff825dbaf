package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusDead    OutboxStatus = "dead"
)

// NotificationOutbox: уведомление, записанное в той же транзакции, что и смена статуса.
// Доставляется воркером notify.Dispatcher.
type NotificationOutbox struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`

	// Topic: тема доменного события, например consultation.confirmed.
	Topic    string         `gorm:"type:varchar(64);not null"`
	Title    string         `gorm:"type:varchar(255);not null"`
	Body     string         `gorm:"type:text"`
	Metadata datatypes.JSON `gorm:"not null"`

	Status        OutboxStatus `gorm:"type:varchar(16);not null;index:idx_outbox_due,priority:1"`
	Attempts      int          `gorm:"not null"`
	NextAttemptAt time.Time    `gorm:"not null;index:idx_outbox_due,priority:2"`
	LastError     *string      `gorm:"type:text"`
	SentAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *NotificationOutbox) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
