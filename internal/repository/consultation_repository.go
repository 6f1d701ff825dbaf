package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

// ParticipantRole: с какой стороны пользователь участвует в консультации.
type ParticipantRole string

const (
	ParticipantAny    ParticipantRole = ""
	ParticipantFarmer ParticipantRole = "farmer"
	ParticipantExpert ParticipantRole = "expert"
)

type ConsultationFilter struct {
	UserID   uuid.UUID
	Role     ParticipantRole
	Statuses []model.ConsultationStatus
	// Только оплаченные (для очереди входящих заявок эксперта).
	PaidOnly bool
	Limit    int
	Offset   int
}

type ConsultationRepository interface {
	// Создать новую консультацию.
	Create(ctx context.Context, c *model.Consultation) error
	// Получить консультацию по ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
	// Получить консультацию с блокировкой строки до конца транзакции.
	LockByID(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
	GetByPaymentOrderID(ctx context.Context, orderID string) (*model.Consultation, error)
	// Сохранить все поля консультации.
	Save(ctx context.Context, c *model.Consultation) error
	// Активные (не cancelled/no_show) консультации эксперта, начинающиеся в [from, to).
	// exclude: консультация, которую не нужно учитывать (перенос).
	ListActiveForExpert(ctx context.Context, expertID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]model.Consultation, error)
	// Список консультаций участника с пагинацией.
	List(ctx context.Context, f ConsultationFilter) ([]model.Consultation, int64, error)
	// Неоплаченные pending-консультации, созданные раньше createdBefore.
	ListUnpaidBefore(ctx context.Context, createdBefore time.Time, limit int) ([]model.Consultation, error)
	// Подтверждённые консультации в [from, to), по которым ещё не было напоминания.
	ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]model.Consultation, error)
}

// Реализация на GORM.
type GormConsultationRepository struct {
	db *gorm.DB
}

func NewGormConsultationRepository(db *gorm.DB) *GormConsultationRepository {
	return &GormConsultationRepository{db: db}
}

func (r *GormConsultationRepository) Create(ctx context.Context, c *model.Consultation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *GormConsultationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	var c model.Consultation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormConsultationRepository) LockByID(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	var c model.Consultation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormConsultationRepository) GetByPaymentOrderID(ctx context.Context, orderID string) (*model.Consultation, error) {
	var c model.Consultation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, "payment_order_id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormConsultationRepository) Save(ctx context.Context, c *model.Consultation) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *GormConsultationRepository) ListActiveForExpert(
	ctx context.Context,
	expertID uuid.UUID,
	from, to time.Time,
	exclude *uuid.UUID,
) ([]model.Consultation, error) {
	q := r.db.WithContext(ctx).
		Where("expert_id = ?", expertID).
		Where("status NOT IN ?", model.ReleasedStatuses).
		Where("scheduled_at >= ? AND scheduled_at < ?", from, to)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}

	var rows []model.Consultation
	if err := q.Order("scheduled_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormConsultationRepository) List(ctx context.Context, f ConsultationFilter) ([]model.Consultation, int64, error) {
	var (
		rows  []model.Consultation
		total int64
	)

	q := r.db.WithContext(ctx).Model(&model.Consultation{})
	switch f.Role {
	case ParticipantFarmer:
		q = q.Where("farmer_id = ?", f.UserID)
	case ParticipantExpert:
		q = q.Where("expert_id = ?", f.UserID)
	default:
		q = q.Where("farmer_id = ? OR expert_id = ?", f.UserID, f.UserID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.PaidOnly {
		q = q.Where("payment_status = ?", model.PaymentStatusPaid)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}

	if err := q.Order("scheduled_at DESC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}

func (r *GormConsultationRepository) ListUnpaidBefore(
	ctx context.Context,
	createdBefore time.Time,
	limit int,
) ([]model.Consultation, error) {
	var rows []model.Consultation
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ConsultationStatusPending).
		Where("payment_status IN ?", []model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusFailed}).
		Where("created_at < ?", createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GormConsultationRepository) ListDueReminders(
	ctx context.Context,
	from, to time.Time,
	limit int,
) ([]model.Consultation, error) {
	var rows []model.Consultation
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ConsultationStatusConfirmed).
		Where("reminder_sent_at IS NULL").
		Where("scheduled_at >= ? AND scheduled_at < ?", from, to).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
