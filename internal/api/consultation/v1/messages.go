// Package consultationv1 is the wire contract of the consultation core.
// Callers identify themselves with the x-user-id metadata key; the gateway
// sets it after authenticating the user.
package consultationv1

import (
	"time"

	"github.com/shopspring/decimal"
)

type Empty struct{}

// ----- experts and availability -----

type Expert struct {
	UserID             string          `json:"user_id"`
	DisplayName        string          `json:"display_name"`
	Specialization     string          `json:"specialization,omitempty"`
	ConsultationFee    decimal.Decimal `json:"consultation_fee"`
	Currency           string          `json:"currency"`
	Languages          []string        `json:"languages,omitempty"`
	Rating             float64         `json:"rating"`
	TotalReviews       int             `json:"total_reviews"`
	TotalConsultations int             `json:"total_consultations"`
	IsVerified         bool            `json:"is_verified"`
	IsActive           bool            `json:"is_active"`
}

type UpsertExpertProfileRequest struct {
	DisplayName     string          `json:"display_name" validate:"required,max=255"`
	Specialization  string          `json:"specialization" validate:"max=255"`
	ConsultationFee decimal.Decimal `json:"consultation_fee"`
	Currency        string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Languages       []string        `json:"languages" validate:"max=10,dive,min=2,max=8"`
	IsActive        bool            `json:"is_active"`
}

type GetExpertRequest struct {
	ExpertID string `json:"expert_id" validate:"required,uuid"`
}

type ExpertResponse struct {
	Expert *Expert `json:"expert"`
}

type AvailabilityWindow struct {
	DayOfWeek           int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime           string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime             string `json:"end_time" validate:"required,datetime=15:04"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" validate:"min=0,max=240"`
	IsAvailable         bool   `json:"is_available"`
}

type SetWeeklyAvailabilityRequest struct {
	ExpertID string               `json:"expert_id" validate:"required,uuid"`
	Windows  []AvailabilityWindow `json:"windows" validate:"max=50,dive"`
}

type ListWeeklyAvailabilityRequest struct {
	ExpertID string `json:"expert_id" validate:"required,uuid"`
}

type WeeklyAvailabilityResponse struct {
	Windows []AvailabilityWindow `json:"windows"`
}

type DateOverride struct {
	Date        string `json:"date"`
	IsAvailable bool   `json:"is_available"`
	Reason      string `json:"reason,omitempty"`
}

type SetDateOverrideRequest struct {
	ExpertID    string `json:"expert_id" validate:"required,uuid"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	IsAvailable bool   `json:"is_available"`
	Reason      string `json:"reason" validate:"max=500"`
}

type DateOverrideResponse struct {
	Override *DateOverride `json:"override"`
}

type DeleteDateOverrideRequest struct {
	ExpertID string `json:"expert_id" validate:"required,uuid"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
}

type DeleteDateOverrideResponse struct {
	Deleted bool `json:"deleted"`
}

type ListDateOverridesRequest struct {
	ExpertID string `json:"expert_id" validate:"required,uuid"`
	From     string `json:"from" validate:"required,datetime=2006-01-02"`
	To       string `json:"to" validate:"required,datetime=2006-01-02"`
}

type ListDateOverridesResponse struct {
	Overrides []DateOverride `json:"overrides"`
}

type Slot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
}

type ListAvailableSlotsRequest struct {
	ExpertID string `json:"expert_id" validate:"required,uuid"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
}

type ListAvailableSlotsResponse struct {
	Slots []Slot `json:"slots"`
}

type CheckSlotRequest struct {
	ExpertID        string    `json:"expert_id" validate:"required,uuid"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"min=1,max=240"`
}

type CheckSlotResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type QuoteFeeRequest struct {
	ExpertID        string `json:"expert_id" validate:"required,uuid"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=1,max=240"`
}

type Fee struct {
	Slots            int             `json:"slots"`
	Base             decimal.Decimal `json:"base"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	ExpertEarnings   decimal.Decimal `json:"expert_earnings"`
	PlatformEarnings decimal.Decimal `json:"platform_earnings"`
}

type QuoteFeeResponse struct {
	Fee Fee `json:"fee"`
}

// ----- consultations -----

type Consultation struct {
	ID                    string          `json:"id"`
	FarmerID              string          `json:"farmer_id"`
	ExpertID              string          `json:"expert_id"`
	ScheduledAt           time.Time       `json:"scheduled_at"`
	DurationMinutes       int             `json:"duration_minutes"`
	Type                  string          `json:"type"`
	Status                string          `json:"status"`
	PaymentStatus         string          `json:"payment_status"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	IssueDescription      string          `json:"issue_description,omitempty"`
	CallStartedAt         *time.Time      `json:"call_started_at,omitempty"`
	CallEndedAt           *time.Time      `json:"call_ended_at,omitempty"`
	ActualDurationMinutes *int            `json:"actual_duration_minutes,omitempty"`
	CancellationReason    *string         `json:"cancellation_reason,omitempty"`
	CancelledAt           *time.Time      `json:"cancelled_at,omitempty"`
	ExpertNotes           *string         `json:"expert_notes,omitempty"`
	Recommendations       *string         `json:"recommendations,omitempty"`
	FollowUpRequired      bool            `json:"follow_up_required"`
	FollowUpDate          *string         `json:"follow_up_date,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

type BookConsultationRequest struct {
	ExpertID         string    `json:"expert_id" validate:"required,uuid"`
	ScheduledAt      time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes  int       `json:"duration_minutes" validate:"min=1,max=240"`
	Type             string    `json:"type" validate:"omitempty,oneof=video audio chat"`
	IssueDescription string    `json:"issue_description" validate:"max=2000"`
}

type BookConsultationResponse struct {
	Consultation    *Consultation `json:"consultation"`
	Fee             Fee           `json:"fee"`
	PaymentOrderID  string        `json:"payment_order_id"`
	PaymentDeadline time.Time     `json:"payment_deadline"`
}

// ConsultationRequest addresses one consultation; used by the read and
// single-step transition calls.
type ConsultationRequest struct {
	ConsultationID string `json:"consultation_id" validate:"required,uuid"`
}

type ConsultationResponse struct {
	Consultation *Consultation `json:"consultation"`
}

type CancelConsultationRequest struct {
	ConsultationID string `json:"consultation_id" validate:"required,uuid"`
	Reason         string `json:"reason" validate:"max=500"`
}

type Refund struct {
	Amount  decimal.Decimal `json:"refund_amount"`
	Percent int             `json:"refund_percent"`
	Reason  string          `json:"reason"`
}

type CancelConsultationResponse struct {
	Consultation *Consultation `json:"consultation"`
	Refund       Refund        `json:"refund"`
}

type PreviewRefundResponse struct {
	Refund Refund `json:"refund"`
}

type CompleteConsultationRequest struct {
	ConsultationID   string `json:"consultation_id" validate:"required,uuid"`
	ExpertNotes      string `json:"expert_notes" validate:"max=5000"`
	Recommendations  string `json:"recommendations" validate:"max=5000"`
	FollowUpRequired bool   `json:"follow_up_required"`
	FollowUpDate     string `json:"follow_up_date" validate:"omitempty,datetime=2006-01-02"`
}

type RescheduleConsultationRequest struct {
	ConsultationID string    `json:"consultation_id" validate:"required,uuid"`
	ScheduledAt    time.Time `json:"scheduled_at" validate:"required"`
}

type SessionCredentials struct {
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AppID     string    `json:"app_id,omitempty"`
	Type      string    `json:"type"`
}

type GetSessionCredentialsResponse struct {
	Consultation *Consultation      `json:"consultation"`
	Credentials  SessionCredentials `json:"credentials"`
}

type SubmitReviewRequest struct {
	ConsultationID string `json:"consultation_id" validate:"required,uuid"`
	Rating         int    `json:"rating" validate:"min=1,max=5"`
	ReviewText     string `json:"review_text" validate:"max=2000"`
	WasHelpful     *bool  `json:"was_helpful"`
	WouldRecommend *bool  `json:"would_recommend"`
}

type SubmitReviewResponse struct {
	ReviewID     string  `json:"review_id"`
	ExpertRating float64 `json:"expert_rating"`
	TotalReviews int     `json:"total_reviews"`
}

type ListExpertReviewsRequest struct {
	ExpertID string `json:"expert_id" validate:"required,uuid"`
	Sort     string `json:"sort" validate:"omitempty,oneof=recent oldest highest lowest"`
	Page     int    `json:"page" validate:"min=0"`
	PageSize int    `json:"page_size" validate:"min=0,max=100"`
}

type Review struct {
	ID             string    `json:"id"`
	ConsultationID string    `json:"consultation_id"`
	FarmerID       string    `json:"farmer_id"`
	Rating         int       `json:"rating"`
	ReviewText     string    `json:"review_text,omitempty"`
	WasHelpful     *bool     `json:"was_helpful,omitempty"`
	WouldRecommend *bool     `json:"would_recommend,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type ReviewStats struct {
	TotalReviews   int64   `json:"total_reviews"`
	AverageRating  float64 `json:"average_rating"`
	OneStar        int64   `json:"one_star"`
	TwoStar        int64   `json:"two_star"`
	ThreeStar      int64   `json:"three_star"`
	FourStar       int64   `json:"four_star"`
	FiveStar       int64   `json:"five_star"`
	HelpfulCount   int64   `json:"helpful_count"`
	RecommendCount int64   `json:"recommend_count"`
}

type ListExpertReviewsResponse struct {
	Reviews    []Review    `json:"reviews"`
	Statistics ReviewStats `json:"statistics"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int64       `json:"total"`
	HasNext    bool        `json:"has_next"`
	HasPrev    bool        `json:"has_prev"`
}

type ConsultationEvent struct {
	EventType  string    `json:"event_type"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	ActorID    *string   `json:"actor_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ConsultationHistoryResponse struct {
	Events []ConsultationEvent `json:"events"`
}

type ListConsultationsRequest struct {
	Role     string   `json:"role" validate:"omitempty,oneof=farmer expert"`
	Statuses []string `json:"statuses" validate:"dive,oneof=pending confirmed in_progress completed cancelled no_show"`
	Page     int      `json:"page" validate:"min=0"`
	PageSize int      `json:"page_size" validate:"min=0,max=100"`
}

type ListPendingRequestsRequest struct {
	Page     int `json:"page" validate:"min=0"`
	PageSize int `json:"page_size" validate:"min=0,max=100"`
}

type ListConsultationsResponse struct {
	Consultations []*Consultation `json:"consultations"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
	Total         int64           `json:"total"`
	HasNext       bool            `json:"has_next"`
	HasPrev       bool            `json:"has_prev"`
}

// ----- devices -----

type RegisterDeviceRequest struct {
	Token    string `json:"token" validate:"required,max=255"`
	Platform string `json:"platform" validate:"required,oneof=expo ios"`
}

type RegisterDeviceResponse struct {
	DeviceID string `json:"device_id"`
}

type UnregisterDeviceRequest struct {
	Token string `json:"token" validate:"required,max=255"`
}
