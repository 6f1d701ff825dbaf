package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/payment"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
	"github.com/automotiv/khetisahayak-sub001/internal/session"
)

// Понедельник; эксперт работает по понедельникам 09:00-17:00 UTC.
var (
	monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	at10   = monday.Add(10 * time.Hour)
	// За 34 часа до at10.
	bookingTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type refundCall struct {
	Reference string
	Amount    decimal.Decimal
}

type fakeGateway struct {
	mu        sync.Mutex
	orders    int
	refunds   []refundCall
	createErr error
	refundErr error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency, _ string) (payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payment.Order{}, g.createErr
	}
	g.orders++
	return payment.Order{ID: fmt.Sprintf("chrg_test_%d", g.orders), Amount: amount, Currency: currency}, nil
}

func (g *fakeGateway) VerifySignature([]byte, string, string) bool { return true }

func (g *fakeGateway) Refund(_ context.Context, ref string, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds = append(g.refunds, refundCall{Reference: ref, Amount: amount})
	return "rfnd_" + ref, nil
}

func (g *fakeGateway) Refunds() []refundCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]refundCall(nil), g.refunds...)
}

type fakeSessions struct {
	issueErr error
}

func (f *fakeSessions) AllocateChannel(id uuid.UUID, at time.Time) string {
	return session.ChannelName(id, at)
}

func (f *fakeSessions) Issue(_ context.Context, req session.Request) (*session.Credential, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &session.Credential{
		Channel:   req.Channel,
		UID:       session.NumericUID(req.UserID),
		Role:      session.RolePublisher,
		Token:     "tok-" + req.UserID.String(),
		ExpiresAt: time.Now().Add(session.DefaultTokenTTL),
		Type:      req.Type,
	}, nil
}

type testEnv struct {
	store         *repository.Store
	clock         *fakeClock
	gateway       *fakeGateway
	sessions      *fakeSessions
	calendar      *CalendarService
	consultations *ConsultationService
	expertID      uuid.UUID
	farmerID      uuid.UUID
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, model.AutoMigrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, openTestDB(t))
}

func newTestEnvWithDB(t *testing.T, db *gorm.DB) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    repository.NewStore(db),
		clock:    &fakeClock{t: bookingTime},
		gateway:  &fakeGateway{},
		sessions: &fakeSessions{},
		expertID: uuid.New(),
		farmerID: uuid.New(),
	}
	opts := Options{Location: time.UTC, Now: env.clock.Now}
	env.calendar = NewCalendarService(env.store, opts)
	env.consultations = NewConsultationService(env.store, env.calendar, env.gateway, env.sessions, opts)

	ctx := context.Background()
	_, err := env.calendar.UpsertExpertProfile(ctx, env.expertID, ExpertProfileInput{
		DisplayName:     "Dr. Meena Rao",
		Specialization:  "Soil health",
		ConsultationFee: decimal.NewFromInt(500),
		Currency:        "INR",
		Languages:       []string{"hi", "en"},
		IsActive:        true,
	})
	require.NoError(t, err)

	_, err = env.calendar.SetWeeklyAvailability(ctx, env.expertID, env.expertID, []WindowInput{
		{DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "17:00", SlotDurationMinutes: 30, IsAvailable: true},
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) book(t *testing.T, start time.Time, minutes int) *model.Consultation {
	t.Helper()
	b, err := e.consultations.Book(context.Background(), BookRequest{
		FarmerID:        e.farmerID,
		ExpertID:        e.expertID,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Type:            model.ConsultationTypeVideo,
	})
	require.NoError(t, err)
	return b.Consultation
}

func (e *testEnv) pay(t *testing.T, c *model.Consultation) {
	t.Helper()
	_, err := e.consultations.HandlePaymentEvent(context.Background(), payment.ChargeEvent{
		Outcome:          payment.ChargeSucceeded,
		OrderID:          *c.PaymentOrderID,
		PaymentReference: *c.PaymentOrderID,
	})
	require.NoError(t, err)
}

// bookConfirmed books, pays and confirms a consultation.
func (e *testEnv) bookConfirmed(t *testing.T, start time.Time, minutes int) *model.Consultation {
	t.Helper()
	c := e.book(t, start, minutes)
	e.pay(t, c)
	confirmed, err := e.consultations.Confirm(context.Background(), e.expertID, c.ID)
	require.NoError(t, err)
	return confirmed
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *model.Consultation {
	t.Helper()
	c, err := e.store.Consultations.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (e *testEnv) outboxFor(t *testing.T, userID uuid.UUID) []model.NotificationOutbox {
	t.Helper()
	var rows []model.NotificationOutbox
	require.NoError(t, e.store.DB().Where("user_id = ?", userID).Order("created_at ASC").Find(&rows).Error)
	return rows
}
