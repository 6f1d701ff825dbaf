package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DevicePlatform string

const (
	DevicePlatformExpo DevicePlatform = "expo"
	DevicePlatformIOS  DevicePlatform = "ios"
)

func (p DevicePlatform) Valid() bool {
	switch p {
	case DevicePlatformExpo, DevicePlatformIOS:
		return true
	}
	return false
}

// DeviceToken: push-токен устройства пользователя.
type DeviceToken struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID      `gorm:"type:uuid;not null;index"`
	Token    string         `gorm:"type:varchar(255);not null;uniqueIndex"`
	Platform DevicePlatform `gorm:"type:varchar(16);not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *DeviceToken) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
