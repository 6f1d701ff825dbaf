package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/automotiv/khetisahayak-sub001/internal/events"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

const expoToken = "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"

type memDevices struct {
	rows    []model.DeviceToken
	deleted []string
}

func (m *memDevices) ListByUser(_ context.Context, userID uuid.UUID) ([]model.DeviceToken, error) {
	var out []model.DeviceToken
	for _, d := range m.rows {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDevices) DeleteByToken(_ context.Context, token string) error {
	m.deleted = append(m.deleted, token)
	return nil
}

type stubExpo struct {
	resp expo.PushResponse
	err  error
	sent []*expo.PushMessage
}

func (s *stubExpo) Publish(msg *expo.PushMessage) (expo.PushResponse, error) {
	s.sent = append(s.sent, msg)
	return s.resp, s.err
}

type stubAPNs struct {
	resp *apns2.Response
	sent []*apns2.Notification
}

func (s *stubAPNs) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	s.sent = append(s.sent, n)
	return s.resp, nil
}

func TestPushNotifier_FansOutByPlatform(t *testing.T) {
	user := uuid.New()
	devices := &memDevices{rows: []model.DeviceToken{
		{UserID: user, Token: expoToken, Platform: model.DevicePlatformExpo},
		{UserID: user, Token: "a1b2c3", Platform: model.DevicePlatformIOS},
		{UserID: uuid.New(), Token: "other", Platform: model.DevicePlatformIOS},
	}}
	ex := &stubExpo{resp: expo.PushResponse{Status: "ok"}}
	ap := &stubAPNs{resp: &apns2.Response{StatusCode: 200}}
	n := NewPushNotifier(devices, ex, ap, "com.khetisahayak.app", zap.NewNop())

	res, err := n.Send(context.Background(), Message{
		UserID: user,
		Title:  "Consultation Update",
		Body:   "Your consultation has been confirmed",
		Data:   map[string]string{"type": "consultation_status"},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 2}, res)

	require.Len(t, ex.sent, 1)
	assert.Equal(t, "Consultation Update", ex.sent[0].Title)
	assert.Equal(t, "consultation_status", ex.sent[0].Data["type"])
	require.Len(t, ap.sent, 1)
	assert.Equal(t, "a1b2c3", ap.sent[0].DeviceToken)
	assert.Equal(t, "com.khetisahayak.app", ap.sent[0].Topic)
}

func TestPushNotifier_RemovesDeadTokens(t *testing.T) {
	user := uuid.New()
	devices := &memDevices{rows: []model.DeviceToken{
		{UserID: user, Token: expoToken, Platform: model.DevicePlatformExpo},
		{UserID: user, Token: "gone", Platform: model.DevicePlatformIOS},
		{UserID: user, Token: "not-an-expo-token", Platform: model.DevicePlatformExpo},
	}}
	ex := &stubExpo{resp: expo.PushResponse{
		Status:  "error",
		Message: "not registered",
		Details: map[string]string{"error": "DeviceNotRegistered"},
	}}
	ap := &stubAPNs{resp: &apns2.Response{StatusCode: 410, Reason: apns2.ReasonUnregistered}}
	n := NewPushNotifier(devices, ex, ap, "topic", zap.NewNop())

	res, err := n.Send(context.Background(), Message{UserID: user, Title: "t", Body: "b"})
	require.ErrorIs(t, err, ErrUndelivered)
	assert.Equal(t, Result{Failed: 3, Removed: 3}, res)
	assert.ElementsMatch(t, []string{expoToken, "gone", "not-an-expo-token"}, devices.deleted)
}

func TestPushNotifier_NoDevicesIsNotAnError(t *testing.T) {
	n := NewPushNotifier(&memDevices{}, &stubExpo{}, nil, "", zap.NewNop())
	res, err := n.Send(context.Background(), Message{UserID: uuid.New()})
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestPushNotifier_PartialFailureKeepsDelivery(t *testing.T) {
	user := uuid.New()
	devices := &memDevices{rows: []model.DeviceToken{
		{UserID: user, Token: expoToken, Platform: model.DevicePlatformExpo},
		{UserID: user, Token: "ios", Platform: model.DevicePlatformIOS},
	}}
	// APNs не настроен: iOS-устройство не получает push, но Expo доставлен.
	n := NewPushNotifier(devices, &stubExpo{resp: expo.PushResponse{Status: "ok"}}, nil, "", zap.NewNop())

	res, err := n.Send(context.Background(), Message{UserID: user})
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 1, Failed: 1}, res)
	assert.Empty(t, devices.deleted)
}

type memOutbox struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.NotificationOutbox
}

func newMemOutbox(rows ...*model.NotificationOutbox) *memOutbox {
	m := &memOutbox{rows: map[uuid.UUID]*model.NotificationOutbox{}}
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.rows[r.ID] = r
	}
	return m
}

func (m *memOutbox) Enqueue(_ context.Context, msgs ...*model.NotificationOutbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range msgs {
		m.rows[r.ID] = r
	}
	return nil
}

func (m *memOutbox) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]model.NotificationOutbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.NotificationOutbox
	for _, r := range m.rows {
		if len(out) == limit {
			break
		}
		if r.Status == model.OutboxStatusPending && !r.NextAttemptAt.After(now) {
			r.NextAttemptAt = now.Add(lease)
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = model.OutboxStatusSent
	r.SentAt = &at
	r.Attempts++
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id uuid.UUID, attempts int, next time.Time, reason string, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Attempts = attempts
	r.NextAttemptAt = next
	r.LastError = &reason
	if dead {
		r.Status = model.OutboxStatusDead
	}
	return nil
}

type scriptedSender struct {
	err   error
	calls []Message
}

func (s *scriptedSender) Send(_ context.Context, msg Message) (Result, error) {
	s.calls = append(s.calls, msg)
	if s.err != nil {
		return Result{Failed: 1}, s.err
	}
	return Result{Delivered: 1}, nil
}

type capturePublisher struct {
	topics []string
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, topic string, e events.Event) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, e)
	return errors.New("broker down")
}

func (p *capturePublisher) Close() error { return nil }

func outboxRow(now time.Time) *model.NotificationOutbox {
	meta, _ := json.Marshal(map[string]string{
		"type":            "consultation_status",
		"consultation_id": uuid.NewString(),
		"status":          "confirmed",
	})
	return &model.NotificationOutbox{
		UserID:        uuid.New(),
		Topic:         "consultation.confirmed",
		Title:         "Consultation Update",
		Body:          "Your consultation has been confirmed",
		Metadata:      datatypes.JSON(meta),
		Status:        model.OutboxStatusPending,
		NextAttemptAt: now,
	}
}

func TestDispatcher_DeliversAndPublishes(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	row := outboxRow(now)
	box := newMemOutbox(row)
	sender := &scriptedSender{}
	pub := &capturePublisher{}
	d := NewDispatcher(box, sender, pub, DispatcherConfig{Now: func() time.Time { return now }})

	sent, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "confirmed", sender.calls[0].Data["status"])
	// Ошибка брокера не откладывает доставленное уведомление.
	assert.Equal(t, model.OutboxStatusSent, row.Status)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "consultation.confirmed", pub.topics[0])
	assert.NotEqual(t, uuid.Nil, pub.events[0].ConsultationID)

	sent, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestDispatcher_BacksOffThenDeadLetters(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	row := outboxRow(now)
	box := newMemOutbox(row)
	sender := &scriptedSender{err: ErrUndelivered}
	clock := now
	d := NewDispatcher(box, sender, nil, DispatcherConfig{
		Now: func() time.Time { return clock },
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Minute,
			MaxBackoff:        3 * time.Minute,
			BackoffMultiplier: 2,
		},
	})

	for attempt, wantDelay := range []time.Duration{time.Minute, 2 * time.Minute} {
		_, err := d.Drain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, attempt+1, row.Attempts)
		assert.Equal(t, model.OutboxStatusPending, row.Status)
		assert.Equal(t, clock.Add(wantDelay), row.NextAttemptAt)
		clock = row.NextAttemptAt
	}

	_, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusDead, row.Status)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "not delivered")

	clock = clock.Add(24 * time.Hour)
	_, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Len(t, sender.calls, 3)
}

func TestRetryConfig_BackoffIsCapped(t *testing.T) {
	c := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, c.Backoff(0))
	assert.Equal(t, 4*time.Second, c.Backoff(3))
	assert.Equal(t, 10*time.Second, c.Backoff(10))
}
