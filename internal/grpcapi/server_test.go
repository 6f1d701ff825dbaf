package grpcapi

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	pb "github.com/automotiv/khetisahayak-sub001/internal/api/consultation/v1"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/payment"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
	"github.com/automotiv/khetisahayak-sub001/internal/service"
	"github.com/automotiv/khetisahayak-sub001/internal/session"
)

const testSecret = "s3cret"

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu     sync.Mutex
	orders int
}

func (g *stubGateway) CreateOrder(_ context.Context, amount decimal.Decimal, currency, _ string) (payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	return payment.Order{ID: fmt.Sprintf("chrg_%d", g.orders), Amount: amount, Currency: currency}, nil
}

func (g *stubGateway) Refund(_ context.Context, ref string, _ decimal.Decimal) (string, error) {
	return "rfnd_" + ref, nil
}

func (g *stubGateway) VerifySignature([]byte, string, string) bool { return true }

type stubSessions struct{}

func (stubSessions) AllocateChannel(id uuid.UUID, at time.Time) string {
	return session.ChannelName(id, at)
}

func (stubSessions) Issue(_ context.Context, req session.Request) (*session.Credential, error) {
	return &session.Credential{Channel: req.Channel, UID: session.NumericUID(req.UserID), Token: "tok", Type: req.Type}, nil
}

type harness struct {
	client        *pb.Client
	consultations *service.ConsultationService
	clock         *time.Time
	expertID      uuid.UUID
	farmerID      uuid.UUID
}

func newHarness(t *testing.T) *harness {
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

	h := &harness{expertID: uuid.New(), farmerID: uuid.New()}
	clock := now
	h.clock = &clock

	store := repository.NewStore(db)
	opts := service.Options{Location: time.UTC, Now: func() time.Time { return *h.clock }}
	cal := service.NewCalendarService(store, opts)
	h.consultations = service.NewConsultationService(store, cal, &stubGateway{}, stubSessions{}, opts)
	devices := service.NewDeviceService(store)

	gs := NewGRPCServer(zap.NewNop(), testSecret)
	NewServer(cal, h.consultations, devices, zap.NewNop()).Register(gs)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(pb.Codec{})),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	h.client = pb.NewClient(conn)
	return h
}

func (h *harness) as(user uuid.UUID) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(),
		MetadataInternalSecret, testSecret,
		MetadataUserID, user.String(),
	)
}

func (h *harness) setupExpert(t *testing.T) {
	t.Helper()
	var expert pb.ExpertResponse
	require.NoError(t, h.client.Call(h.as(h.expertID), "UpsertExpertProfile", &pb.UpsertExpertProfileRequest{
		DisplayName:     "Dr. Meena Rao",
		ConsultationFee: decimal.NewFromInt(500),
		Currency:        "INR",
		IsActive:        true,
	}, &expert))
	assert.Equal(t, h.expertID.String(), expert.Expert.UserID)

	var windows pb.WeeklyAvailabilityResponse
	require.NoError(t, h.client.Call(h.as(h.expertID), "SetWeeklyAvailability", &pb.SetWeeklyAvailabilityRequest{
		ExpertID: h.expertID.String(),
		Windows: []pb.AvailabilityWindow{
			{DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", SlotDurationMinutes: 30, IsAvailable: true},
		},
	}, &windows))
	require.Len(t, windows.Windows, 1)
	assert.Equal(t, "12:00", windows.Windows[0].EndTime)
}

func TestServer_BookConfirmFlow(t *testing.T) {
	h := newHarness(t)
	h.setupExpert(t)

	var slots pb.ListAvailableSlotsResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "ListAvailableSlots", &pb.ListAvailableSlotsRequest{
		ExpertID: h.expertID.String(),
		Date:     "2025-06-02",
	}, &slots))
	require.Len(t, slots.Slots, 6)
	assert.True(t, slots.Slots[0].Available)
	start := slots.Slots[2].Start

	var quote pb.QuoteFeeResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "QuoteFee", &pb.QuoteFeeRequest{
		ExpertID: h.expertID.String(), DurationMinutes: 60,
	}, &quote))
	assert.True(t, decimal.NewFromInt(1118).Equal(quote.Fee.Total))

	var booked pb.BookConsultationResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "BookConsultation", &pb.BookConsultationRequest{
		ExpertID: h.expertID.String(), ScheduledAt: start, DurationMinutes: 30, Type: "video",
	}, &booked))
	assert.Equal(t, "pending", booked.Consultation.Status)
	assert.Equal(t, now.Add(30*time.Minute), booked.PaymentDeadline)

	// Второе бронирование того же слота: Aborted и вид ошибки в trailer.
	var trailer metadata.MD
	err := h.client.Call(h.as(uuid.New()), "BookConsultation", &pb.BookConsultationRequest{
		ExpertID: h.expertID.String(), ScheduledAt: start, DurationMinutes: 30,
	}, &pb.BookConsultationResponse{}, grpc.Trailer(&trailer))
	require.Error(t, err)
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, service.ReasonSlotBooked, status.Convert(err).Message())
	assert.Equal(t, []string{"slot_unavailable"}, trailer.Get(TrailerErrorKind))

	// Подтверждение без оплаты запрещено.
	err = h.client.Call(h.as(h.expertID), "ConfirmConsultation", &pb.ConsultationRequest{
		ConsultationID: booked.Consultation.ID,
	}, &pb.ConsultationResponse{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = h.consultations.HandlePaymentEvent(context.Background(), payment.ChargeEvent{
		Outcome: payment.ChargeSucceeded, OrderID: booked.PaymentOrderID, PaymentReference: booked.PaymentOrderID,
	})
	require.NoError(t, err)

	var pending pb.ListConsultationsResponse
	require.NoError(t, h.client.Call(h.as(h.expertID), "ListPendingRequests", &pb.ListPendingRequestsRequest{}, &pending))
	require.Len(t, pending.Consultations, 1)
	assert.Equal(t, int64(1), pending.Total)

	var confirmed pb.ConsultationResponse
	require.NoError(t, h.client.Call(h.as(h.expertID), "ConfirmConsultation", &pb.ConsultationRequest{
		ConsultationID: booked.Consultation.ID,
	}, &confirmed))
	assert.Equal(t, "confirmed", confirmed.Consultation.Status)
	assert.Equal(t, "paid", confirmed.Consultation.PaymentStatus)

	// Присоединиться за 16 минут до начала рано: FailedPrecondition и минуты в trailer.
	*h.clock = start.Add(-16 * time.Minute)
	trailer = nil
	err = h.client.Call(h.as(h.farmerID), "GetSessionCredentials", &pb.ConsultationRequest{
		ConsultationID: booked.Consultation.ID,
	}, &pb.GetSessionCredentialsResponse{}, grpc.Trailer(&trailer))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, []string{"too_early"}, trailer.Get(TrailerErrorKind))
	assert.Equal(t, []string{"1"}, trailer.Get(TrailerMinutesRemaining))

	*h.clock = start.Add(-5 * time.Minute)
	var grant pb.GetSessionCredentialsResponse
	require.NoError(t, h.client.Call(h.as(h.expertID), "GetSessionCredentials", &pb.ConsultationRequest{
		ConsultationID: booked.Consultation.ID,
	}, &grant))
	assert.Equal(t, "in_progress", grant.Consultation.Status)
	assert.NotEmpty(t, grant.Credentials.Channel)

	var history pb.ConsultationHistoryResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "GetConsultationHistory", &pb.ConsultationRequest{
		ConsultationID: booked.Consultation.ID,
	}, &history))
	types := make([]string, 0, len(history.Events))
	for _, e := range history.Events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, string(model.EventTypeConsultationCreated))
	assert.Contains(t, types, string(model.EventTypeConsultationStarted))

	// Фермер жмёт «начать» после эксперта: тот же звонок, без ошибки.
	var again pb.ConsultationResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "StartConsultation", &pb.ConsultationRequest{
		ConsultationID: booked.Consultation.ID,
	}, &again))
	assert.Equal(t, "in_progress", again.Consultation.Status)

	*h.clock = start.Add(30 * time.Minute)
	require.NoError(t, h.client.Call(h.as(h.expertID), "CompleteConsultation", &pb.CompleteConsultationRequest{
		ConsultationID: booked.Consultation.ID, ExpertNotes: "Leaf curl virus",
	}, &pb.ConsultationResponse{}))
	var review pb.SubmitReviewResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "SubmitReview", &pb.SubmitReviewRequest{
		ConsultationID: booked.Consultation.ID, Rating: 4, ReviewText: "Clear advice",
	}, &review))

	anonymous := metadata.AppendToOutgoingContext(context.Background(), MetadataInternalSecret, testSecret)
	var reviews pb.ListExpertReviewsResponse
	require.NoError(t, h.client.Call(anonymous, "ListExpertReviews", &pb.ListExpertReviewsRequest{
		ExpertID: h.expertID.String(), Sort: "highest",
	}, &reviews))
	require.Len(t, reviews.Reviews, 1)
	assert.Equal(t, review.ReviewID, reviews.Reviews[0].ID)
	assert.Equal(t, "Clear advice", reviews.Reviews[0].ReviewText)
	assert.Equal(t, int64(1), reviews.Statistics.TotalReviews)
	assert.Equal(t, int64(1), reviews.Statistics.FourStar)
	assert.InDelta(t, 4.0, reviews.Statistics.AverageRating, 1e-9)

	err = h.client.Call(anonymous, "ListExpertReviews", &pb.ListExpertReviewsRequest{
		ExpertID: h.expertID.String(), Sort: "best",
	}, &pb.ListExpertReviewsResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_RejectsBadCallers(t *testing.T) {
	h := newHarness(t)
	h.setupExpert(t)

	noSecret := metadata.AppendToOutgoingContext(context.Background(), MetadataUserID, h.farmerID.String())
	err := h.client.Call(noSecret, "GetExpert", &pb.GetExpertRequest{ExpertID: h.expertID.String()}, &pb.ExpertResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	anonymous := metadata.AppendToOutgoingContext(context.Background(), MetadataInternalSecret, testSecret)
	var expert pb.ExpertResponse
	require.NoError(t, h.client.Call(anonymous, "GetExpert", &pb.GetExpertRequest{ExpertID: h.expertID.String()}, &expert))
	assert.Equal(t, "Dr. Meena Rao", expert.Expert.DisplayName)

	err = h.client.Call(anonymous, "ListConsultations", &pb.ListConsultationsRequest{}, &pb.ListConsultationsResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	malformed := metadata.AppendToOutgoingContext(anonymous, MetadataUserID, "farmer-1")
	err = h.client.Call(malformed, "ListConsultations", &pb.ListConsultationsRequest{}, &pb.ListConsultationsResponse{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = h.client.Call(h.as(h.farmerID), "GetExpert", &pb.GetExpertRequest{ExpertID: "nope"}, &pb.ExpertResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "expert_id")

	err = h.client.Call(h.as(h.farmerID), "SetWeeklyAvailability", &pb.SetWeeklyAvailabilityRequest{
		ExpertID: h.expertID.String(),
	}, &pb.WeeklyAvailabilityResponse{})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	err = h.client.Call(h.as(h.farmerID), "GetExpert", &pb.GetExpertRequest{ExpertID: uuid.NewString()}, &pb.ExpertResponse{})
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = h.client.Call(h.as(h.farmerID), "RegisterDevice", &pb.RegisterDeviceRequest{
		Token: "ExponentPushToken[abc]", Platform: "android",
	}, &pb.RegisterDeviceResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var device pb.RegisterDeviceResponse
	require.NoError(t, h.client.Call(h.as(h.farmerID), "RegisterDevice", &pb.RegisterDeviceRequest{
		Token: "ExponentPushToken[abc]", Platform: "expo",
	}, &device))
	assert.NotEmpty(t, device.DeviceID)
}
