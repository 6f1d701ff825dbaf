package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

type OutboxRepository interface {
	Enqueue(ctx context.Context, msgs ...*model.NotificationOutbox) error
	// Забрать пачку готовых к отправке сообщений и сдвинуть их next_attempt_at на lease.
	// На Postgres выборка идёт с SKIP LOCKED, поэтому несколько воркеров не делят одно сообщение;
	// если воркер упал, сообщение снова станет доступно после lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.NotificationOutbox, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, next time.Time, reason string, dead bool) error
}

type GormOutboxRepository struct {
	db *gorm.DB
}

func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

func (r *GormOutboxRepository) Enqueue(ctx context.Context, msgs ...*model.NotificationOutbox) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(msgs).Error
}

func (r *GormOutboxRepository) ClaimDue(
	ctx context.Context,
	now time.Time,
	lease time.Duration,
	limit int,
) ([]model.NotificationOutbox, error) {
	var rows []model.NotificationOutbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", model.OutboxStatusPending, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		return tx.Model(&model.NotificationOutbox{}).
			Where("id IN ?", ids).
			Update("next_attempt_at", now.Add(lease)).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.NotificationOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   model.OutboxStatusSent,
			"sent_at":  at,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (r *GormOutboxRepository) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	attempts int,
	next time.Time,
	reason string,
	dead bool,
) error {
	status := model.OutboxStatusPending
	if dead {
		status = model.OutboxStatusDead
	}
	return r.db.WithContext(ctx).
		Model(&model.NotificationOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      reason,
		}).Error
}
