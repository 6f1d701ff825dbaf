package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
)

// DeviceService keeps the push tokens the notification dispatcher delivers to.
type DeviceService struct {
	store *repository.Store
}

func NewDeviceService(store *repository.Store) *DeviceService {
	return &DeviceService{store: store}
}

// RegisterDevice binds token to actor. A token moves to the latest user that registers it.
func (s *DeviceService) RegisterDevice(
	ctx context.Context,
	actor uuid.UUID,
	token string,
	platform model.DevicePlatform,
) (*model.DeviceToken, error) {
	const op = "RegisterDevice"
	if actor == uuid.Nil {
		return nil, unauthorized(op, "caller identity is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalidArgument(op, "token is required")
	}
	if !platform.Valid() {
		return nil, invalidArgument(op, "unknown platform %q", platform)
	}

	d := &model.DeviceToken{UserID: actor, Token: token, Platform: platform}
	if err := s.store.Devices.Upsert(ctx, d); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (s *DeviceService) UnregisterDevice(ctx context.Context, actor uuid.UUID, token string) error {
	const op = "UnregisterDevice"
	if actor == uuid.Nil {
		return unauthorized(op, "caller identity is required")
	}
	if err := s.store.Devices.DeleteByToken(ctx, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
