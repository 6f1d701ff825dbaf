package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/automotiv/khetisahayak-sub001/internal/events"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/observability"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
)

// RetryConfig controls redelivery of failed outbox rows.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       8,
		InitialBackoff:    30 * time.Second,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2,
	}
}

// Backoff returns the delay before the next try after attempt failures.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

type DispatcherConfig struct {
	BatchSize int
	// Lease: на сколько строка скрывается от других воркеров после захвата.
	Lease time.Duration
	// PublishTimeout ограничивает публикацию в шину; 0: без отдельного лимита.
	PublishTimeout time.Duration
	Retry          RetryConfig
	Now            func() time.Time
	Logger         *zap.Logger
}

// Dispatcher drains the notification outbox: each due row is pushed to the
// user's devices and announced on the event bus, then marked sent or
// rescheduled with exponential backoff. After MaxAttempts the row is dead.
type Dispatcher struct {
	outbox    repository.OutboxRepository
	sender    Sender
	publisher events.Publisher
	cfg       DispatcherConfig
	logger    *zap.Logger
}

func NewDispatcher(outbox repository.OutboxRepository, sender Sender, publisher events.Publisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Dispatcher{
		outbox:    outbox,
		sender:    sender,
		publisher: publisher,
		cfg:       cfg,
		logger:    cfg.Logger.Named("outbox"),
	}
}

// Drain processes one batch and returns how many rows were delivered.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	now := d.cfg.Now().UTC()
	rows, err := d.outbox.ClaimDue(ctx, now, d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox: %w", err)
	}

	sent := 0
	for i := range rows {
		if ctx.Err() != nil {
			// Оставшиеся строки вернутся в очередь после истечения lease.
			return sent, ctx.Err()
		}
		ok, err := d.deliver(ctx, &rows[i])
		observability.ObserveWorkerItem("outbox", err)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// deliver returns an error only when the outbox row itself could not be updated.
func (d *Dispatcher) deliver(ctx context.Context, row *model.NotificationOutbox) (bool, error) {
	data := map[string]string{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &data); err != nil {
			d.logger.Warn("bad outbox metadata", zap.String("id", row.ID.String()), zap.Error(err))
		}
	}

	_, sendErr := d.sender.Send(ctx, Message{
		UserID: row.UserID,
		Title:  row.Title,
		Body:   row.Body,
		Data:   data,
	})

	now := d.cfg.Now().UTC()
	if sendErr != nil {
		attempts := row.Attempts + 1
		dead := attempts >= d.cfg.Retry.MaxAttempts
		next := now.Add(d.cfg.Retry.Backoff(attempts))
		if err := d.outbox.MarkFailed(ctx, row.ID, attempts, next, sendErr.Error(), dead); err != nil {
			return false, fmt.Errorf("mark outbox %s failed: %w", row.ID, err)
		}
		log := d.logger.With(
			zap.String("id", row.ID.String()),
			zap.Int("attempts", attempts),
			zap.Error(sendErr),
		)
		if dead {
			log.Error("notification dead-lettered")
		} else {
			log.Warn("notification delivery failed, will retry", zap.Time("next_attempt_at", next))
		}
		return false, nil
	}

	// Событие в шину: best-effort: сбой брокера не повторяет push.
	d.publish(ctx, row, data, now)

	if err := d.outbox.MarkSent(ctx, row.ID, now); err != nil {
		return false, fmt.Errorf("mark outbox %s sent: %w", row.ID, err)
	}
	return true, nil
}

func (d *Dispatcher) publish(ctx context.Context, row *model.NotificationOutbox, data map[string]string, now time.Time) {
	e := events.Event{
		EventType:  row.Topic,
		UserID:     row.UserID,
		Status:     data["status"],
		Title:      row.Title,
		Body:       row.Body,
		Metadata:   json.RawMessage(row.Metadata),
		OccurredAt: now,
	}
	if id, ok := data["consultation_id"]; ok {
		_ = e.ConsultationID.UnmarshalText([]byte(id))
	}

	if d.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.PublishTimeout)
		defer cancel()
	}
	started := time.Now()
	err := d.publisher.Publish(ctx, row.Topic, e)
	observability.ObserveExternalCall("broker", "publish", started, err)
	if err != nil {
		d.logger.Warn("event publish failed", zap.String("topic", row.Topic), zap.Error(err))
	}
}
