package model

import "gorm.io/gorm"

// AutoMigrate выполняет миграцию всех сущностей движка консультаций.
// CHECK-ограничения добавляются отдельно, см. internal/migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ExpertProfile{},
		&WeeklyAvailability{},
		&DateOverride{},
		&Consultation{},
		&Review{},
		&DeviceToken{},
		&NotificationOutbox{},
		&ConsultationEvent{},
	)
}
