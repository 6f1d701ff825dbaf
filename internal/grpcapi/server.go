// Package grpcapi exposes the consultation engine over gRPC.
package grpcapi

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	pb "github.com/automotiv/khetisahayak-sub001/internal/api/consultation/v1"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
	"github.com/automotiv/khetisahayak-sub001/internal/service"
)

type Server struct {
	pb.UnimplementedConsultationServiceServer

	calendar      *service.CalendarService
	consultations *service.ConsultationService
	devices       *service.DeviceService
	logger        *zap.Logger
}

func NewServer(
	calendar *service.CalendarService,
	consultations *service.ConsultationService,
	devices *service.DeviceService,
	logger *zap.Logger,
) *Server {
	return &Server{
		calendar:      calendar,
		consultations: consultations,
		devices:       devices,
		logger:        logger.Named("grpc"),
	}
}

// NewValidator reports fields by their json names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// NewGRPCServer builds a grpc.Server with the interceptor chain and the JSON
// codec installed. secret may be empty in development.
func NewGRPCServer(logger *zap.Logger, secret string, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(pb.Codec{}),
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
			authInterceptor(secret),
			actorInterceptor(),
			validationInterceptor(NewValidator()),
		),
	}, opts...)
	return grpc.NewServer(opts...)
}

func (s *Server) Register(gs *grpc.Server) {
	pb.RegisterConsultationServiceServer(gs, s)
}

func (s *Server) fail(ctx context.Context, err error) error {
	return toStatus(ctx, err, s.logger)
}

// ----- experts and availability -----

func (s *Server) UpsertExpertProfile(ctx context.Context, req *pb.UpsertExpertProfileRequest) (*pb.ExpertResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.calendar.UpsertExpertProfile(ctx, actor, service.ExpertProfileInput{
		DisplayName:     req.DisplayName,
		Specialization:  req.Specialization,
		ConsultationFee: req.ConsultationFee,
		Currency:        req.Currency,
		Languages:       req.Languages,
		IsActive:        req.IsActive,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.ExpertResponse{Expert: toExpert(p)}, nil
}

func (s *Server) GetExpert(ctx context.Context, req *pb.GetExpertRequest) (*pb.ExpertResponse, error) {
	id, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	p, err := s.calendar.GetExpert(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.ExpertResponse{Expert: toExpert(p)}, nil
}

func (s *Server) SetWeeklyAvailability(ctx context.Context, req *pb.SetWeeklyAvailabilityRequest) (*pb.WeeklyAvailabilityResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	rows, err := s.calendar.SetWeeklyAvailability(ctx, actor, expertID, fromWindows(req.Windows))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.WeeklyAvailabilityResponse{Windows: toWindows(rows)}, nil
}

func (s *Server) ListWeeklyAvailability(ctx context.Context, req *pb.ListWeeklyAvailabilityRequest) (*pb.WeeklyAvailabilityResponse, error) {
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	rows, err := s.calendar.ListWeeklyAvailability(ctx, expertID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.WeeklyAvailabilityResponse{Windows: toWindows(rows)}, nil
}

func (s *Server) SetDateOverride(ctx context.Context, req *pb.SetDateOverrideRequest) (*pb.DateOverrideResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date, s.calendar.Location())
	if err != nil {
		return nil, err
	}
	o, err := s.calendar.SetDateOverride(ctx, actor, expertID, date, req.IsAvailable, req.Reason)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := toOverride(o)
	return &pb.DateOverrideResponse{Override: &out}, nil
}

func (s *Server) DeleteDateOverride(ctx context.Context, req *pb.DeleteDateOverrideRequest) (*pb.DeleteDateOverrideResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date, s.calendar.Location())
	if err != nil {
		return nil, err
	}
	deleted, err := s.calendar.DeleteDateOverride(ctx, actor, expertID, date)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.DeleteDateOverrideResponse{Deleted: deleted}, nil
}

func (s *Server) ListDateOverrides(ctx context.Context, req *pb.ListDateOverridesRequest) (*pb.ListDateOverridesResponse, error) {
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	loc := s.calendar.Location()
	from, err := parseDate("from", req.From, loc)
	if err != nil {
		return nil, err
	}
	to, err := parseDate("to", req.To, loc)
	if err != nil {
		return nil, err
	}
	rows, err := s.calendar.ListDateOverrides(ctx, expertID, from, to)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := make([]pb.DateOverride, 0, len(rows))
	for i := range rows {
		out = append(out, toOverride(&rows[i]))
	}
	return &pb.ListDateOverridesResponse{Overrides: out}, nil
}

func (s *Server) ListAvailableSlots(ctx context.Context, req *pb.ListAvailableSlotsRequest) (*pb.ListAvailableSlotsResponse, error) {
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date, s.calendar.Location())
	if err != nil {
		return nil, err
	}
	slots, err := s.calendar.GenerateSlots(ctx, expertID, date)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.ListAvailableSlotsResponse{Slots: toSlots(slots)}, nil
}

func (s *Server) CheckSlot(ctx context.Context, req *pb.CheckSlotRequest) (*pb.CheckSlotResponse, error) {
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	check, err := s.calendar.IsSlotAvailable(ctx, expertID, req.ScheduledAt, req.DurationMinutes)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.CheckSlotResponse{Available: check.Available, Reason: check.Reason}, nil
}

func (s *Server) QuoteFee(ctx context.Context, req *pb.QuoteFeeRequest) (*pb.QuoteFeeResponse, error) {
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	fee, err := s.calendar.CalculateFee(ctx, expertID, req.DurationMinutes)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.QuoteFeeResponse{Fee: toFee(fee)}, nil
}

// ----- consultations -----

func (s *Server) BookConsultation(ctx context.Context, req *pb.BookConsultationRequest) (*pb.BookConsultationResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	expertID, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	b, err := s.consultations.Book(ctx, service.BookRequest{
		FarmerID:         actor,
		ExpertID:         expertID,
		ScheduledAt:      req.ScheduledAt,
		DurationMinutes:  req.DurationMinutes,
		Type:             model.ConsultationType(req.Type),
		IssueDescription: req.IssueDescription,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.BookConsultationResponse{
		Consultation:    toConsultation(b.Consultation),
		Fee:             toFee(b.Fee),
		PaymentOrderID:  b.PaymentOrderID,
		PaymentDeadline: b.PaymentDeadline.UTC(),
	}, nil
}

// transition covers the calls shaped (actor, consultation id) -> consultation.
func (s *Server) transition(
	ctx context.Context,
	rawID string,
	fn func(ctx context.Context, actor, id uuid.UUID) (*model.Consultation, error),
) (*pb.ConsultationResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("consultation_id", rawID)
	if err != nil {
		return nil, err
	}
	c, err := fn(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.ConsultationResponse{Consultation: toConsultation(c)}, nil
}

func (s *Server) ConfirmConsultation(ctx context.Context, req *pb.ConsultationRequest) (*pb.ConsultationResponse, error) {
	return s.transition(ctx, req.ConsultationID, s.consultations.Confirm)
}

func (s *Server) StartConsultation(ctx context.Context, req *pb.ConsultationRequest) (*pb.ConsultationResponse, error) {
	return s.transition(ctx, req.ConsultationID, s.consultations.Start)
}

func (s *Server) MarkNoShow(ctx context.Context, req *pb.ConsultationRequest) (*pb.ConsultationResponse, error) {
	return s.transition(ctx, req.ConsultationID, s.consultations.MarkNoShow)
}

func (s *Server) GetConsultation(ctx context.Context, req *pb.ConsultationRequest) (*pb.ConsultationResponse, error) {
	return s.transition(ctx, req.ConsultationID, s.consultations.Get)
}

func (s *Server) CompleteConsultation(ctx context.Context, req *pb.CompleteConsultationRequest) (*pb.ConsultationResponse, error) {
	in := service.CompletionInput{
		ExpertNotes:      req.ExpertNotes,
		Recommendations:  req.Recommendations,
		FollowUpRequired: req.FollowUpRequired,
	}
	if req.FollowUpDate != "" {
		d, err := parseDate("follow_up_date", req.FollowUpDate, s.calendar.Location())
		if err != nil {
			return nil, err
		}
		in.FollowUpDate = &d
	}
	return s.transition(ctx, req.ConsultationID, func(ctx context.Context, actor, id uuid.UUID) (*model.Consultation, error) {
		return s.consultations.Complete(ctx, actor, id, in)
	})
}

func (s *Server) RescheduleConsultation(ctx context.Context, req *pb.RescheduleConsultationRequest) (*pb.ConsultationResponse, error) {
	return s.transition(ctx, req.ConsultationID, func(ctx context.Context, actor, id uuid.UUID) (*model.Consultation, error) {
		return s.consultations.Reschedule(ctx, actor, id, req.ScheduledAt)
	})
}

func (s *Server) cancelLike(
	ctx context.Context,
	req *pb.CancelConsultationRequest,
	fn func(ctx context.Context, actor, id uuid.UUID, reason string) (*service.CancelResult, error),
) (*pb.CancelConsultationResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("consultation_id", req.ConsultationID)
	if err != nil {
		return nil, err
	}
	res, err := fn(ctx, actor, id, req.Reason)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.CancelConsultationResponse{
		Consultation: toConsultation(res.Consultation),
		Refund:       toRefund(res.Refund),
	}, nil
}

func (s *Server) RejectConsultation(ctx context.Context, req *pb.CancelConsultationRequest) (*pb.CancelConsultationResponse, error) {
	return s.cancelLike(ctx, req, s.consultations.Reject)
}

func (s *Server) CancelConsultation(ctx context.Context, req *pb.CancelConsultationRequest) (*pb.CancelConsultationResponse, error) {
	return s.cancelLike(ctx, req, s.consultations.Cancel)
}

func (s *Server) PreviewRefund(ctx context.Context, req *pb.ConsultationRequest) (*pb.PreviewRefundResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("consultation_id", req.ConsultationID)
	if err != nil {
		return nil, err
	}
	r, err := s.consultations.PreviewRefund(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.PreviewRefundResponse{Refund: toRefund(r)}, nil
}

func (s *Server) GetSessionCredentials(ctx context.Context, req *pb.ConsultationRequest) (*pb.GetSessionCredentialsResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("consultation_id", req.ConsultationID)
	if err != nil {
		return nil, err
	}
	grant, err := s.consultations.GetSessionCredentials(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.GetSessionCredentialsResponse{
		Consultation: toConsultation(grant.Consultation),
		Credentials:  toCredentials(grant.Credential),
	}, nil
}

func (s *Server) SubmitReview(ctx context.Context, req *pb.SubmitReviewRequest) (*pb.SubmitReviewResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("consultation_id", req.ConsultationID)
	if err != nil {
		return nil, err
	}
	res, err := s.consultations.SubmitReview(ctx, actor, id, service.ReviewInput{
		Rating:         req.Rating,
		ReviewText:     req.ReviewText,
		WasHelpful:     req.WasHelpful,
		WouldRecommend: req.WouldRecommend,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.SubmitReviewResponse{
		ReviewID:     res.Review.ID.String(),
		ExpertRating: res.Rating,
		TotalReviews: res.TotalReviews,
	}, nil
}

func (s *Server) ListExpertReviews(ctx context.Context, req *pb.ListExpertReviewsRequest) (*pb.ListExpertReviewsResponse, error) {
	id, err := parseID("expert_id", req.ExpertID)
	if err != nil {
		return nil, err
	}
	res, err := s.consultations.ListExpertReviews(ctx, id, repository.ReviewSort(req.Sort), req.Page, req.PageSize)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return toReviewsPage(res), nil
}

func (s *Server) GetConsultationHistory(ctx context.Context, req *pb.ConsultationRequest) (*pb.ConsultationHistoryResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID("consultation_id", req.ConsultationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.consultations.History(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.ConsultationHistoryResponse{Events: toEvents(rows)}, nil
}

func (s *Server) ListConsultations(ctx context.Context, req *pb.ListConsultationsRequest) (*pb.ListConsultationsResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]model.ConsultationStatus, 0, len(req.Statuses))
	for _, st := range req.Statuses {
		statuses = append(statuses, model.ConsultationStatus(st))
	}
	page, err := s.consultations.List(ctx, actor, service.ListQuery{
		Role:     repository.ParticipantRole(req.Role),
		Statuses: statuses,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return toPage(page), nil
}

func (s *Server) ListPendingRequests(ctx context.Context, req *pb.ListPendingRequestsRequest) (*pb.ListConsultationsResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.consultations.PendingRequests(ctx, actor, req.Page, req.PageSize)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return toPage(page), nil
}

// ----- devices -----

func (s *Server) RegisterDevice(ctx context.Context, req *pb.RegisterDeviceRequest) (*pb.RegisterDeviceResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.devices.RegisterDevice(ctx, actor, req.Token, model.DevicePlatform(req.Platform))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.RegisterDeviceResponse{DeviceID: d.ID.String()}, nil
}

func (s *Server) UnregisterDevice(ctx context.Context, req *pb.UnregisterDeviceRequest) (*pb.Empty, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.devices.UnregisterDevice(ctx, actor, req.Token); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.Empty{}, nil
}

var _ pb.ConsultationServiceServer = (*Server)(nil)

// shutdownTimeout bounds GracefulStop before falling back to Stop.
const shutdownTimeout = 10 * time.Second

// Shutdown stops gs gracefully, forcing it after shutdownTimeout.
func Shutdown(gs *grpc.Server) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		gs.Stop()
	}
}
