package grpcapi

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/automotiv/khetisahayak-sub001/internal/api/consultation/v1"
	"github.com/automotiv/khetisahayak-sub001/internal/billing"
	"github.com/automotiv/khetisahayak-sub001/internal/calendar"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/service"
	"github.com/automotiv/khetisahayak-sub001/internal/session"
)

const dateLayout = "2006-01-02"

// parseID: формат уже проверен валидатором, ошибка здесь означает пустое поле.
func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s: must be a uuid", field)
	}
	return id, nil
}

func parseDate(field, raw string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s: must be YYYY-MM-DD", field)
	}
	return t, nil
}

func clockString(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func toExpert(p *model.ExpertProfile) *pb.Expert {
	return &pb.Expert{
		UserID:             p.UserID.String(),
		DisplayName:        p.DisplayName,
		Specialization:     p.Specialization,
		ConsultationFee:    p.ConsultationFee,
		Currency:           p.Currency,
		Languages:          []string(p.Languages),
		Rating:             p.Rating,
		TotalReviews:       p.TotalReviews,
		TotalConsultations: p.TotalConsultations,
		IsVerified:         p.IsVerified,
		IsActive:           p.IsActive,
	}
}

func toWindows(rows []model.WeeklyAvailability) []pb.AvailabilityWindow {
	out := make([]pb.AvailabilityWindow, 0, len(rows))
	for _, w := range rows {
		out = append(out, pb.AvailabilityWindow{
			DayOfWeek:           w.DayOfWeek,
			StartTime:           clockString(w.StartOffset()),
			EndTime:             clockString(w.EndOffset()),
			SlotDurationMinutes: w.SlotDurationMinutes,
			IsAvailable:         w.IsAvailable,
		})
	}
	return out
}

func fromWindows(in []pb.AvailabilityWindow) []service.WindowInput {
	out := make([]service.WindowInput, 0, len(in))
	for _, w := range in {
		out = append(out, service.WindowInput{
			DayOfWeek:           w.DayOfWeek,
			StartTime:           w.StartTime,
			EndTime:             w.EndTime,
			SlotDurationMinutes: w.SlotDurationMinutes,
			IsAvailable:         w.IsAvailable,
		})
	}
	return out
}

func toOverride(o *model.DateOverride) pb.DateOverride {
	return pb.DateOverride{
		Date:        time.Time(o.Date).Format(dateLayout),
		IsAvailable: o.IsAvailable,
		Reason:      o.Reason,
	}
}

func toSlots(slots []service.Slot) []pb.Slot {
	out := make([]pb.Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, pb.Slot{
			Start:           s.Start.UTC(),
			End:             s.End.UTC(),
			DurationMinutes: s.DurationMinutes,
			Available:       s.Available,
		})
	}
	return out
}

func toFee(f billing.Fee) pb.Fee {
	return pb.Fee{
		Slots:            f.Slots,
		Base:             f.Base,
		PlatformFee:      f.PlatformFee,
		Tax:              f.Tax,
		Total:            f.Total,
		Currency:         f.Currency,
		ExpertEarnings:   f.Breakdown.ExpertEarnings,
		PlatformEarnings: f.Breakdown.PlatformEarnings,
	}
}

func toRefund(r billing.Refund) pb.Refund {
	return pb.Refund{Amount: r.Amount, Percent: r.Percent, Reason: r.Reason}
}

func toConsultation(c *model.Consultation) *pb.Consultation {
	if c == nil {
		return nil
	}
	out := &pb.Consultation{
		ID:                    c.ID.String(),
		FarmerID:              c.FarmerID.String(),
		ExpertID:              c.ExpertID.String(),
		ScheduledAt:           c.ScheduledAt.UTC(),
		DurationMinutes:       c.DurationMinutes,
		Type:                  string(c.Type),
		Status:                string(c.Status),
		PaymentStatus:         string(c.PaymentStatus),
		Amount:                c.Amount,
		Currency:              c.Currency,
		RefundedAmount:        c.RefundedAmount,
		IssueDescription:      c.IssueDescription,
		CallStartedAt:         c.CallStartedAt,
		CallEndedAt:           c.CallEndedAt,
		ActualDurationMinutes: c.ActualDurationMinutes,
		CancellationReason:    c.CancellationReason,
		CancelledAt:           c.CancelledAt,
		ExpertNotes:           c.ExpertNotes,
		Recommendations:       c.Recommendations,
		FollowUpRequired:      c.FollowUpRequired,
		CreatedAt:             c.CreatedAt.UTC(),
	}
	if c.FollowUpDate != nil {
		d := time.Time(*c.FollowUpDate).Format(dateLayout)
		out.FollowUpDate = &d
	}
	return out
}

func toPage(p calendar.Page[model.Consultation]) *pb.ListConsultationsResponse {
	out := &pb.ListConsultationsResponse{
		Consultations: make([]*pb.Consultation, 0, len(p.Items)),
		Page:          p.Page,
		PageSize:      p.PageSize,
		Total:         p.Total,
		HasNext:       p.HasNext,
		HasPrev:       p.HasPrev,
	}
	for i := range p.Items {
		out.Consultations = append(out.Consultations, toConsultation(&p.Items[i]))
	}
	return out
}

func toReviewsPage(r *service.ExpertReviews) *pb.ListExpertReviewsResponse {
	out := &pb.ListExpertReviewsResponse{
		Reviews: make([]pb.Review, 0, len(r.Items)),
		Statistics: pb.ReviewStats{
			TotalReviews:   r.Stats.Total,
			AverageRating:  r.Stats.Average,
			OneStar:        r.Stats.ByStars[0],
			TwoStar:        r.Stats.ByStars[1],
			ThreeStar:      r.Stats.ByStars[2],
			FourStar:       r.Stats.ByStars[3],
			FiveStar:       r.Stats.ByStars[4],
			HelpfulCount:   r.Stats.Helpful,
			RecommendCount: r.Stats.Recommended,
		},
		Page:     r.Page.Page,
		PageSize: r.PageSize,
		Total:    r.Total,
		HasNext:  r.HasNext,
		HasPrev:  r.HasPrev,
	}
	for _, rv := range r.Items {
		out.Reviews = append(out.Reviews, pb.Review{
			ID:             rv.ID.String(),
			ConsultationID: rv.ConsultationID.String(),
			FarmerID:       rv.FarmerID.String(),
			Rating:         rv.Rating,
			ReviewText:     rv.ReviewText,
			WasHelpful:     rv.WasHelpful,
			WouldRecommend: rv.WouldRecommend,
			CreatedAt:      rv.CreatedAt.UTC(),
		})
	}
	return out
}

func toEvents(rows []model.ConsultationEvent) []pb.ConsultationEvent {
	out := make([]pb.ConsultationEvent, 0, len(rows))
	for _, e := range rows {
		ev := pb.ConsultationEvent{
			EventType:  string(e.EventType),
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			Details:    e.Details,
			CreatedAt:  e.CreatedAt.UTC(),
		}
		if e.ActorID != nil {
			id := e.ActorID.String()
			ev.ActorID = &id
		}
		out = append(out, ev)
	}
	return out
}

func toCredentials(c *session.Credential) pb.SessionCredentials {
	return pb.SessionCredentials{
		Channel:   c.Channel,
		UID:       c.UID,
		Role:      c.Role.String(),
		Token:     c.Token,
		ExpiresAt: c.ExpiresAt.UTC(),
		AppID:     c.AppID,
		Type:      string(c.Type),
	}
}
