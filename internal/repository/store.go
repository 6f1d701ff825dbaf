package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store объединяет репозитории над одним *gorm.DB.
// Transaction выдаёт Store, все репозитории которого работают внутри транзакции.
type Store struct {
	db *gorm.DB

	Experts       ExpertRepository
	Availability  AvailabilityRepository
	Consultations ConsultationRepository
	Reviews       ReviewRepository
	Devices       DeviceRepository
	Outbox        OutboxRepository
	Events        EventRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Experts:       NewGormExpertRepository(db),
		Availability:  NewGormAvailabilityRepository(db),
		Consultations: NewGormConsultationRepository(db),
		Reviews:       NewGormReviewRepository(db),
		Devices:       NewGormDeviceRepository(db),
		Outbox:        NewGormOutboxRepository(db),
		Events:        NewGormEventRepository(db),
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Transaction выполняет fn в транзакции. Ошибка из fn откатывает всё.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
