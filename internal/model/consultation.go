package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConsultationStatus string

const (
	ConsultationStatusPending    ConsultationStatus = "pending"
	ConsultationStatusConfirmed  ConsultationStatus = "confirmed"
	ConsultationStatusInProgress ConsultationStatus = "in_progress"
	ConsultationStatusCompleted  ConsultationStatus = "completed"
	ConsultationStatusCancelled  ConsultationStatus = "cancelled"
	ConsultationStatusNoShow     ConsultationStatus = "no_show"
)

// Таблица допустимых переходов. Терминальные статусы переходов не имеют.
var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationStatusPending:    {ConsultationStatusConfirmed, ConsultationStatusCancelled},
	ConsultationStatusConfirmed:  {ConsultationStatusInProgress, ConsultationStatusCancelled, ConsultationStatusNoShow},
	ConsultationStatusInProgress: {ConsultationStatusCompleted},
	ConsultationStatusCompleted:  nil,
	ConsultationStatusCancelled:  nil,
	ConsultationStatusNoShow:     nil,
}

func (s ConsultationStatus) Valid() bool {
	_, ok := consultationTransitions[s]
	return ok
}

func (s ConsultationStatus) IsTerminal() bool {
	next, ok := consultationTransitions[s]
	return ok && len(next) == 0
}

func (s ConsultationStatus) CanTransitionTo(next ConsultationStatus) bool {
	for _, allowed := range consultationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OccupiesSlot сообщает, занимает ли консультация в этом статусе интервал эксперта.
func (s ConsultationStatus) OccupiesSlot() bool {
	return s != ConsultationStatusCancelled && s != ConsultationStatusNoShow
}

// ReleasedStatuses: статусы, не блокирующие слот.
var ReleasedStatuses = []ConsultationStatus{ConsultationStatusCancelled, ConsultationStatusNoShow}

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusFailed            PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusPartiallyRefunded,
		PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

type ConsultationType string

const (
	ConsultationTypeVideo ConsultationType = "video"
	ConsultationTypeAudio ConsultationType = "audio"
	ConsultationTypeChat  ConsultationType = "chat"
)

func (t ConsultationType) Valid() bool {
	switch t {
	case ConsultationTypeVideo, ConsultationTypeAudio, ConsultationTypeChat:
		return true
	}
	return false
}

// consultations: бронирование консультации. Записи не удаляются.
//
// Частичный уникальный индекс ux_consultations_active_slot не даёт двум активным
// консультациям эксперта начаться в один момент.
type Consultation struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	FarmerID uuid.UUID `gorm:"type:uuid;not null;index"`
	ExpertID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_consultations_active_slot,priority:1,where:status <> 'cancelled' AND status <> 'no_show'"`

	ScheduledAt     time.Time        `gorm:"not null;index;uniqueIndex:ux_consultations_active_slot,priority:2"`
	DurationMinutes int              `gorm:"not null"`
	Type            ConsultationType `gorm:"type:varchar(16);not null"`

	Status        ConsultationStatus `gorm:"type:varchar(32);not null;index"`
	PaymentStatus PaymentStatus      `gorm:"type:varchar(32);not null;index"`

	Amount           decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Currency         string          `gorm:"type:varchar(3);not null"`
	PaymentOrderID   *string         `gorm:"type:varchar(64);index"`
	PaymentReference *string         `gorm:"type:varchar(64)"`
	RefundID         *string         `gorm:"type:varchar(64)"`
	RefundedAmount   decimal.Decimal `gorm:"type:numeric(10,2);not null"`

	IssueDescription string `gorm:"type:text"`

	CallRoomID            *string `gorm:"type:varchar(64)"`
	CallStartedAt         *time.Time
	CallEndedAt           *time.Time
	ActualDurationMinutes *int

	CancellationReason *string    `gorm:"type:text"`
	CancelledBy        *uuid.UUID `gorm:"type:uuid"`
	CancelledAt        *time.Time

	ExpertNotes      *string `gorm:"type:text"`
	Recommendations  *string `gorm:"type:text"`
	FollowUpRequired bool    `gorm:"not null"`
	FollowUpDate     *datatypes.Date

	ReminderSentAt *time.Time

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (c *Consultation) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// EndsAt: плановое окончание консультации.
func (c *Consultation) EndsAt() time.Time {
	return c.ScheduledAt.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

func (c *Consultation) IsParticipant(userID uuid.UUID) bool {
	return userID == c.FarmerID || userID == c.ExpertID
}
