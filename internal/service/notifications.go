package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/automotiv/khetisahayak-sub001/internal/calendar"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
)

const (
	notificationTitle = "Consultation Update"
	reminderTitle     = "Consultation Reminder"

	metadataTypeStatus   = "consultation_status"
	metadataTypeReminder = "consultation_reminder"
	metadataTypeReview   = "consultation_review"
)

// TopicFor is the event topic for a consultation status, e.g. consultation.confirmed.
func TopicFor(status model.ConsultationStatus) string {
	return "consultation." + string(status)
}

type notice struct {
	userID uuid.UUID
	body   string
}

// outboxWriter collects the messages produced by one transition; flush writes
// them through the transaction's store so they commit with the state change.
type outboxWriter struct {
	loc   *time.Location
	now   time.Time
	c     *model.Consultation
	topic string
	kind  string
	title string
	extra map[string]string
	items []notice
}

func newOutbox(loc *time.Location, now time.Time, c *model.Consultation, topic string) *outboxWriter {
	return &outboxWriter{
		loc:   loc,
		now:   now,
		c:     c,
		topic: topic,
		kind:  metadataTypeStatus,
		title: notificationTitle,
	}
}

func (w *outboxWriter) to(userID uuid.UUID, format string, args ...any) *outboxWriter {
	w.items = append(w.items, notice{userID: userID, body: fmt.Sprintf(format, args...)})
	return w
}

func (w *outboxWriter) with(key, value string) *outboxWriter {
	if w.extra == nil {
		w.extra = make(map[string]string)
	}
	w.extra[key] = value
	return w
}

func (w *outboxWriter) slotLabel() string {
	return calendar.FormatSlotForUser(calendar.RangeFor(w.c.ScheduledAt, w.c.DurationMinutes), w.loc)
}

func (w *outboxWriter) flush(ctx context.Context, tx *repository.Store) error {
	if len(w.items) == 0 {
		return nil
	}
	meta := map[string]string{
		"type":            w.kind,
		"consultation_id": w.c.ID.String(),
		"status":          string(w.c.Status),
	}
	for k, v := range w.extra {
		meta[k] = v
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	msgs := make([]*model.NotificationOutbox, 0, len(w.items))
	for _, it := range w.items {
		msgs = append(msgs, &model.NotificationOutbox{
			UserID:        it.userID,
			Topic:         w.topic,
			Title:         w.title,
			Body:          it.body,
			Metadata:      datatypes.JSON(raw),
			Status:        model.OutboxStatusPending,
			NextAttemptAt: w.now,
		})
	}
	return tx.Outbox.Enqueue(ctx, msgs...)
}

// expertName используется в текстах уведомлений фермеру.
func expertName(ctx context.Context, tx *repository.Store, expertID uuid.UUID) string {
	p, err := tx.Experts.GetByUserID(ctx, expertID)
	if err != nil || p.DisplayName == "" {
		return "your expert"
	}
	return p.DisplayName
}
