package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/automotiv/khetisahayak-sub001/internal/billing"
	"github.com/automotiv/khetisahayak-sub001/internal/calendar"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/observability"
	"github.com/automotiv/khetisahayak-sub001/internal/payment"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
	"github.com/automotiv/khetisahayak-sub001/internal/session"
)

// ExpiredPaymentReason is stored on bookings cancelled by the payment reaper.
const ExpiredPaymentReason = "Payment not completed within 30 minutes"

const sweepBatchSize = 100

// SessionIssuer allocates call rooms and signs per-participant credentials.
type SessionIssuer interface {
	AllocateChannel(consultationID uuid.UUID, at time.Time) string
	Issue(ctx context.Context, req session.Request) (*session.Credential, error)
}

type BookRequest struct {
	FarmerID         uuid.UUID
	ExpertID         uuid.UUID
	ScheduledAt      time.Time
	DurationMinutes  int
	Type             model.ConsultationType
	IssueDescription string
}

type Booking struct {
	Consultation    *model.Consultation
	Fee             billing.Fee
	PaymentOrderID  string
	PaymentDeadline time.Time
}

type CancelResult struct {
	Consultation *model.Consultation
	Refund       billing.Refund
}

type CompletionInput struct {
	ExpertNotes      string
	Recommendations  string
	FollowUpRequired bool
	FollowUpDate     *time.Time
}

type ReviewInput struct {
	Rating         int
	ReviewText     string
	WasHelpful     *bool
	WouldRecommend *bool
}

type RatingUpdate struct {
	Rating       float64
	TotalReviews int
}

type ReviewResult struct {
	Review *model.Review
	RatingUpdate
}

type SessionGrant struct {
	Consultation *model.Consultation
	Credential   *session.Credential
}

type ListQuery struct {
	Role     repository.ParticipantRole
	Statuses []model.ConsultationStatus
	Page     int
	PageSize int
}

// ConsultationService drives a consultation from booking to review.
// Every state change runs in one transaction with the row locked, writes an
// audit event and enqueues the outbox notifications.
type ConsultationService struct {
	store    *repository.Store
	calendar *CalendarService
	gateway  payment.Gateway
	sessions SessionIssuer

	loc             *time.Location
	now             func() time.Time
	logger          *zap.Logger
	tracer          trace.Tracer
	externalTimeout time.Duration
}

func NewConsultationService(
	store *repository.Store,
	cal *CalendarService,
	gateway payment.Gateway,
	sessions SessionIssuer,
	opts Options,
) *ConsultationService {
	opts = opts.withDefaults()
	return &ConsultationService{
		store:           store,
		calendar:        cal,
		gateway:         gateway,
		sessions:        sessions,
		loc:             opts.Location,
		now:             opts.Now,
		logger:          opts.Logger,
		tracer:          tracer(),
		externalTimeout: opts.ExternalTimeout,
	}
}

func (s *ConsultationService) clock() time.Time { return s.now().UTC() }

func (s *ConsultationService) begin(ctx context.Context, op string, id uuid.UUID) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "consultation."+op,
		trace.WithAttributes(attribute.String("consultation.id", id.String())))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ObserveTransition(op, *errp)
		span.End()
	}
}

// Book reserves a slot for the farmer and opens a payment order for it.
func (s *ConsultationService) Book(ctx context.Context, req BookRequest) (_ *Booking, err error) {
	const op = "Book"
	ctx, span := s.tracer.Start(ctx, "consultation.Book",
		trace.WithAttributes(attribute.String("expert.id", req.ExpertID.String())))
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrSlotUnavailable):
			result = "slot_unavailable"
		case err != nil:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ObserveBooking(result)
		span.End()
	}()

	if req.FarmerID == uuid.Nil {
		return nil, unauthorized(op, "caller identity is required")
	}
	if req.FarmerID == req.ExpertID {
		return nil, invalidArgument(op, "experts cannot book consultations with themselves")
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > MaxConsultationMinutes {
		return nil, invalidArgument(op, "duration_minutes must be between 1 and %d", MaxConsultationMinutes)
	}
	if req.Type == "" {
		req.Type = model.ConsultationTypeVideo
	}
	if !req.Type.Valid() {
		return nil, invalidArgument(op, "unknown consultation type %q", req.Type)
	}
	if req.ScheduledAt.IsZero() {
		return nil, invalidArgument(op, "scheduled_at is required")
	}
	scheduled := req.ScheduledAt.UTC().Truncate(time.Minute)

	expert, err := s.calendar.getExpert(ctx, s.store, op, req.ExpertID)
	if err != nil {
		return nil, err
	}
	if !expert.IsActive {
		return nil, newError(ErrExpertNotFound, op, "expert is not accepting consultations")
	}
	fee, err := priceFor(op, expert, req.DurationMinutes)
	if err != nil {
		return nil, err
	}

	// Быстрый отказ без блокировок; окончательная проверка повторяется в транзакции.
	reason, err := s.calendar.checkSlot(ctx, s.store, req.ExpertID, scheduled, req.DurationMinutes, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: check slot: %w", op, err)
	}
	if reason != "" {
		return nil, slotUnavailable(op, reason)
	}

	var c *model.Consultation
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		// Блокировка строки эксперта сериализует конкурирующие бронирования.
		if _, err := tx.Experts.LockByUserID(ctx, req.ExpertID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(ErrExpertNotFound, op, "expert %s not found", req.ExpertID)
			}
			return fmt.Errorf("%s: lock expert: %w", op, err)
		}
		reason, err := s.calendar.checkSlot(ctx, tx, req.ExpertID, scheduled, req.DurationMinutes, nil)
		if err != nil {
			return fmt.Errorf("%s: check slot: %w", op, err)
		}
		if reason != "" {
			return slotUnavailable(op, reason)
		}

		c = &model.Consultation{
			FarmerID:         req.FarmerID,
			ExpertID:         req.ExpertID,
			ScheduledAt:      scheduled,
			DurationMinutes:  req.DurationMinutes,
			Type:             req.Type,
			Status:           model.ConsultationStatusPending,
			PaymentStatus:    model.PaymentStatusPending,
			Amount:           fee.Total,
			Currency:         fee.Currency,
			RefundedAmount:   decimal.Zero,
			IssueDescription: strings.TrimSpace(req.IssueDescription),
			CreatedAt:        s.clock(),
		}
		if err := tx.Consultations.Create(ctx, c); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return slotUnavailable(op, ReasonSlotBooked)
			}
			return fmt.Errorf("%s: create consultation: %w", op, err)
		}

		order, err := s.createOrder(ctx, c)
		if err != nil {
			return externalFailure(op, "payment gateway", err)
		}
		c.PaymentOrderID = &order.ID
		if err := tx.Consultations.Save(ctx, c); err != nil {
			return fmt.Errorf("%s: save order: %w", op, err)
		}
		return tx.Events.Record(ctx, &model.ConsultationEvent{
			ConsultationID: c.ID,
			EventType:      model.EventTypeConsultationCreated,
			ToStatus:       c.Status,
			ActorID:        &req.FarmerID,
			Details:        "payment order " + order.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.calendar.invalidateSlots(ctx, req.ExpertID)
	observability.WithTrace(ctx, s.logger).Info("consultation booked",
		zap.String("consultation_id", c.ID.String()),
		zap.String("expert_id", c.ExpertID.String()),
		zap.Time("scheduled_at", c.ScheduledAt),
		zap.String("amount", c.Amount.StringFixed(2)))

	return &Booking{
		Consultation:    c,
		Fee:             fee,
		PaymentOrderID:  *c.PaymentOrderID,
		PaymentDeadline: c.CreatedAt.Add(PaymentWindow),
	}, nil
}

func (s *ConsultationService) createOrder(ctx context.Context, c *model.Consultation) (payment.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.externalTimeout)
	defer cancel()
	started := time.Now()
	order, err := s.gateway.CreateOrder(ctx, c.Amount, c.Currency, c.ID.String())
	observability.ObserveExternalCall("payment", "create_order", started, err)
	return order, err
}

// applyRefund sends refund.Amount back through the gateway and updates the payment fields.
func (s *ConsultationService) applyRefund(ctx context.Context, op string, c *model.Consultation, refund billing.Refund) error {
	if !refund.Amount.IsPositive() {
		return nil
	}
	ref := c.PaymentReference
	if ref == nil {
		ref = c.PaymentOrderID
	}
	if ref == nil {
		return invalidState(op, "consultation has no payment to refund")
	}

	cctx, cancel := context.WithTimeout(ctx, s.externalTimeout)
	defer cancel()
	started := time.Now()
	refundID, err := s.gateway.Refund(cctx, *ref, refund.Amount)
	observability.ObserveExternalCall("payment", "refund", started, err)
	if err != nil {
		return externalFailure(op, "payment gateway refund", err)
	}

	c.RefundID = &refundID
	c.RefundedAmount = refund.Amount
	if refund.IsFull() {
		c.PaymentStatus = model.PaymentStatusRefunded
	} else {
		c.PaymentStatus = model.PaymentStatusPartiallyRefunded
	}
	return nil
}

// mutate locks the consultation and runs fn inside one transaction.
// An error from fn rolls everything back.
func (s *ConsultationService) mutate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	fn func(tx *repository.Store, c *model.Consultation) error,
) (*model.Consultation, error) {
	var out *model.Consultation
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		c, err := tx.Consultations.LockByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrConsultationNotFound, op, "consultation %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("%s: load consultation: %w", op, err)
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// persist saves c and appends the audit event for the change.
func (s *ConsultationService) persist(
	ctx context.Context,
	tx *repository.Store,
	op string,
	c *model.Consultation,
	from model.ConsultationStatus,
	event model.EventType,
	actor *uuid.UUID,
	details string,
) error {
	if err := tx.Consultations.Save(ctx, c); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return slotUnavailable(op, ReasonSlotBooked)
		}
		return fmt.Errorf("%s: save consultation: %w", op, err)
	}
	return tx.Events.Record(ctx, &model.ConsultationEvent{
		ConsultationID: c.ID,
		EventType:      event,
		FromStatus:     from,
		ToStatus:       c.Status,
		ActorID:        actor,
		Details:        details,
	})
}

func requireParticipant(op string, c *model.Consultation, actor uuid.UUID) error {
	if !c.IsParticipant(actor) {
		return unauthorized(op, "caller is not a participant of this consultation")
	}
	return nil
}

func requireExpert(op string, c *model.Consultation, actor uuid.UUID) error {
	if actor != c.ExpertID {
		return unauthorized(op, "only the assigned expert can do this")
	}
	return nil
}

func requireFarmer(op string, c *model.Consultation, actor uuid.UUID) error {
	if actor != c.FarmerID {
		return unauthorized(op, "only the farmer who booked can do this")
	}
	return nil
}

func requireTransition(op string, c *model.Consultation, next model.ConsultationStatus) error {
	if !c.Status.CanTransitionTo(next) {
		return invalidState(op, "cannot move consultation from %s to %s", c.Status, next)
	}
	return nil
}

// admit checks the join window: it opens 15 minutes before the scheduled
// start and, until somebody starts the call, closes 15 minutes after it.
func admit(op string, c *model.Consultation, now time.Time) error {
	opens := c.ScheduledAt.Add(-JoinWindow)
	if now.Before(opens) {
		return tooEarly(op, int(math.Ceil(opens.Sub(now).Minutes())))
	}
	if c.Status == model.ConsultationStatusConfirmed && now.After(c.ScheduledAt.Add(JoinWindow)) {
		return newError(ErrTooLate, op, "the join window for this consultation has closed")
	}
	return nil
}

func otherParty(c *model.Consultation, actor uuid.UUID) uuid.UUID {
	if actor == c.ExpertID {
		return c.FarmerID
	}
	return c.ExpertID
}

func refundNote(c *model.Consultation, r billing.Refund) string {
	if !r.Amount.IsPositive() {
		return r.Reason
	}
	return fmt.Sprintf("A refund of %s %s (%d%%) will be processed.", c.Currency, r.Amount.StringFixed(2), r.Percent)
}

// HandlePaymentEvent applies a verified gateway notification. Replays are no-ops.
func (s *ConsultationService) HandlePaymentEvent(ctx context.Context, ev payment.ChargeEvent) (_ *model.Consultation, err error) {
	const op = "HandlePaymentEvent"
	ctx, done := s.begin(ctx, op, uuid.Nil)
	defer done(&err)

	if ev.Outcome == payment.ChargeIgnored || ev.OrderID == "" {
		return nil, nil
	}
	now := s.clock()

	var out *model.Consultation
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		c, err := tx.Consultations.GetByPaymentOrderID(ctx, ev.OrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(ErrConsultationNotFound, op, "no consultation for payment order %s", ev.OrderID)
		}
		if err != nil {
			return fmt.Errorf("%s: load consultation: %w", op, err)
		}
		out = c

		open := c.PaymentStatus == model.PaymentStatusPending || c.PaymentStatus == model.PaymentStatusFailed
		switch ev.Outcome {
		case payment.ChargeSucceeded:
			if !open {
				return nil
			}
			ref := ev.PaymentReference
			if ref == "" {
				ref = ev.OrderID
			}
			c.PaymentReference = &ref
			c.PaymentStatus = model.PaymentStatusPaid

			if c.Status == model.ConsultationStatusCancelled {
				// Оплата пришла после истечения брони: деньги возвращаются целиком.
				refund := billing.FullRefund(c.Amount)
				refund.Reason = "Full refund - payment arrived after the booking was cancelled"
				if err := s.applyRefund(ctx, op, c, refund); err != nil {
					return err
				}
				if err := s.persist(ctx, tx, op, c, c.Status, model.EventTypePaymentConfirmed, nil, refund.Reason); err != nil {
					return err
				}
				return newOutbox(s.loc, now, c, TopicFor(c.Status)).
					to(c.FarmerID, "Your payment arrived after the booking was cancelled. %s", refundNote(c, refund)).
					flush(ctx, tx)
			}

			if err := s.persist(ctx, tx, op, c, c.Status, model.EventTypePaymentConfirmed, nil, "charge "+ref); err != nil {
				return err
			}
			w := newOutbox(s.loc, now, c, "consultation.paid")
			w.to(c.ExpertID, "New consultation request for %s", w.slotLabel()).
				to(c.FarmerID, "Payment received. Waiting for %s to confirm", expertName(ctx, tx, c.ExpertID))
			return w.flush(ctx, tx)

		case payment.ChargeFailed:
			if c.PaymentStatus != model.PaymentStatusPending {
				return nil
			}
			c.PaymentStatus = model.PaymentStatusFailed
			if err := s.persist(ctx, tx, op, c, c.Status, model.EventTypePaymentFailed, nil, ev.FailureCode); err != nil {
				return err
			}
			return newOutbox(s.loc, now, c, "consultation.payment_failed").
				to(c.FarmerID, "Payment for your consultation failed").
				flush(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.WithTrace(ctx, s.logger).Info("payment event applied",
		zap.String("consultation_id", out.ID.String()),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("payment_status", string(out.PaymentStatus)))
	return out, nil
}

// Confirm accepts a paid pending request.
func (s *ConsultationService) Confirm(ctx context.Context, actor, id uuid.UUID) (_ *model.Consultation, err error) {
	const op = "Confirm"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	return s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireExpert(op, c, actor); err != nil {
			return err
		}
		if err := requireTransition(op, c, model.ConsultationStatusConfirmed); err != nil {
			return err
		}
		if c.PaymentStatus != model.PaymentStatusPaid {
			return invalidState(op, "payment has not been completed")
		}

		from := c.Status
		c.Status = model.ConsultationStatusConfirmed
		if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationConfirmed, &actor, ""); err != nil {
			return err
		}
		w := newOutbox(s.loc, now, c, TopicFor(c.Status))
		w.to(c.FarmerID, "Your consultation with %s has been confirmed", expertName(ctx, tx, c.ExpertID)).
			to(c.ExpertID, "Consultation on %s is confirmed", w.slotLabel())
		return w.flush(ctx, tx)
	})
}

// Reject declines a pending request; a paid booking is refunded in full.
func (s *ConsultationService) Reject(ctx context.Context, actor, id uuid.UUID, reason string) (_ *CancelResult, err error) {
	const op = "Reject"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	var refund billing.Refund
	c, err := s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireExpert(op, c, actor); err != nil {
			return err
		}
		if c.Status != model.ConsultationStatusPending {
			return invalidState(op, "only pending requests can be rejected, consultation is %s", c.Status)
		}

		refund = billing.Refund{Amount: decimal.Zero, Reason: "No payment to refund"}
		if c.PaymentStatus == model.PaymentStatusPaid {
			refund = billing.FullRefund(c.Amount)
			if err := s.applyRefund(ctx, op, c, refund); err != nil {
				return err
			}
		}

		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = "Rejected by expert"
		}
		from := c.Status
		c.Status = model.ConsultationStatusCancelled
		c.CancellationReason = &reason
		c.CancelledBy = &actor
		c.CancelledAt = &now
		if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationRejected, &actor, reason); err != nil {
			return err
		}
		return newOutbox(s.loc, now, c, TopicFor(c.Status)).
			with("refund_amount", refund.Amount.StringFixed(2)).
			to(c.FarmerID, "Your consultation request was declined by %s. %s",
				expertName(ctx, tx, c.ExpertID), refundNote(c, refund)).
			flush(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	s.calendar.invalidateSlots(ctx, c.ExpertID)
	return &CancelResult{Consultation: c, Refund: refund}, nil
}

// Cancel withdraws a pending or confirmed consultation and refunds by the notice tiers.
func (s *ConsultationService) Cancel(ctx context.Context, actor, id uuid.UUID, reason string) (_ *CancelResult, err error) {
	const op = "Cancel"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	var refund billing.Refund
	c, err := s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireParticipant(op, c, actor); err != nil {
			return err
		}
		if err := requireTransition(op, c, model.ConsultationStatusCancelled); err != nil {
			return err
		}

		refund = refundFor(c, now)
		if err := s.applyRefund(ctx, op, c, refund); err != nil {
			return err
		}

		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = "Cancelled by participant"
		}
		from := c.Status
		c.Status = model.ConsultationStatusCancelled
		c.CancellationReason = &reason
		c.CancelledBy = &actor
		c.CancelledAt = &now
		if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationCancelled, &actor, refund.Reason); err != nil {
			return err
		}

		w := newOutbox(s.loc, now, c, TopicFor(c.Status)).with("refund_amount", refund.Amount.StringFixed(2))
		w.to(otherParty(c, actor), "Consultation on %s has been cancelled", w.slotLabel())
		if actor == c.FarmerID {
			w.to(c.FarmerID, "Your consultation has been cancelled. %s", refundNote(c, refund))
		} else {
			w.to(c.FarmerID, "%s", refundNote(c, refund))
		}
		return w.flush(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	s.calendar.invalidateSlots(ctx, c.ExpertID)
	observability.WithTrace(ctx, s.logger).Info("consultation cancelled",
		zap.String("consultation_id", c.ID.String()),
		zap.Int("refund_percent", refund.Percent),
		zap.String("refund_amount", refund.Amount.StringFixed(2)))
	return &CancelResult{Consultation: c, Refund: refund}, nil
}

func refundFor(c *model.Consultation, now time.Time) billing.Refund {
	if c.PaymentStatus != model.PaymentStatusPaid {
		return billing.Refund{Amount: decimal.Zero, Reason: "No payment to refund"}
	}
	return billing.CalculateRefund(c.ScheduledAt, c.Amount, now)
}

// PreviewRefund reports what Cancel would refund right now without changing anything.
func (s *ConsultationService) PreviewRefund(ctx context.Context, actor, id uuid.UUID) (billing.Refund, error) {
	const op = "PreviewRefund"
	c, err := s.load(ctx, op, id)
	if err != nil {
		return billing.Refund{}, err
	}
	if err := requireParticipant(op, c, actor); err != nil {
		return billing.Refund{}, err
	}
	if err := requireTransition(op, c, model.ConsultationStatusCancelled); err != nil {
		return billing.Refund{}, err
	}
	return refundFor(c, s.clock()), nil
}

// Start moves a confirmed consultation to in_progress. Either participant may
// start; both join independently, so starting an in-progress call is a no-op.
func (s *ConsultationService) Start(ctx context.Context, actor, id uuid.UUID) (_ *model.Consultation, err error) {
	const op = "Start"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	return s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireParticipant(op, c, actor); err != nil {
			return err
		}
		if c.Status == model.ConsultationStatusInProgress {
			return nil
		}
		if err := requireTransition(op, c, model.ConsultationStatusInProgress); err != nil {
			return err
		}
		if err := admit(op, c, now); err != nil {
			return err
		}
		return s.startLocked(ctx, tx, op, c, actor, now)
	})
}

func (s *ConsultationService) startLocked(
	ctx context.Context,
	tx *repository.Store,
	op string,
	c *model.Consultation,
	actor uuid.UUID,
	now time.Time,
) error {
	if c.CallRoomID == nil {
		room := s.sessions.AllocateChannel(c.ID, now)
		c.CallRoomID = &room
	}
	from := c.Status
	c.Status = model.ConsultationStatusInProgress
	c.CallStartedAt = &now
	if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationStarted, &actor, *c.CallRoomID); err != nil {
		return err
	}
	return newOutbox(s.loc, now, c, TopicFor(c.Status)).
		with("room_id", *c.CallRoomID).
		to(c.FarmerID, "Your consultation with %s is starting now", expertName(ctx, tx, c.ExpertID)).
		flush(ctx, tx)
}

// Complete closes an in-progress consultation and records the expert's notes.
func (s *ConsultationService) Complete(
	ctx context.Context,
	actor, id uuid.UUID,
	in CompletionInput,
) (_ *model.Consultation, err error) {
	const op = "Complete"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	if in.FollowUpDate != nil && !in.FollowUpRequired {
		return nil, invalidArgument(op, "follow_up_date requires follow_up_required")
	}

	return s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireExpert(op, c, actor); err != nil {
			return err
		}
		if err := requireTransition(op, c, model.ConsultationStatusCompleted); err != nil {
			return err
		}

		started := c.ScheduledAt
		if c.CallStartedAt != nil {
			started = *c.CallStartedAt
		}
		actual := int(math.Round(now.Sub(started).Minutes()))
		if actual < 0 {
			actual = 0
		}

		from := c.Status
		c.Status = model.ConsultationStatusCompleted
		c.CallEndedAt = &now
		c.ActualDurationMinutes = &actual
		if v := strings.TrimSpace(in.ExpertNotes); v != "" {
			c.ExpertNotes = &v
		}
		if v := strings.TrimSpace(in.Recommendations); v != "" {
			c.Recommendations = &v
		}
		c.FollowUpRequired = in.FollowUpRequired
		if in.FollowUpDate != nil {
			d := datatypes.Date(calendar.CivilDate(*in.FollowUpDate, s.loc))
			c.FollowUpDate = &d
		}

		if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationCompleted, &actor, ""); err != nil {
			return err
		}
		if err := tx.Experts.IncrementConsultations(ctx, c.ExpertID); err != nil {
			return fmt.Errorf("%s: count consultation: %w", op, err)
		}
		return newOutbox(s.loc, now, c, TopicFor(c.Status)).
			with("action", "review").
			to(c.FarmerID, "Your consultation with %s is complete. Please rate your experience!",
				expertName(ctx, tx, c.ExpertID)).
			flush(ctx, tx)
	})
}

// MarkNoShow closes a confirmed consultation the farmer never joined.
// Allowed once the grace period after the scheduled start has passed.
func (s *ConsultationService) MarkNoShow(ctx context.Context, actor, id uuid.UUID) (_ *model.Consultation, err error) {
	const op = "MarkNoShow"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	c, err := s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireExpert(op, c, actor); err != nil {
			return err
		}
		if err := requireTransition(op, c, model.ConsultationStatusNoShow); err != nil {
			return err
		}
		if allowed := c.ScheduledAt.Add(NoShowGrace); now.Before(allowed) {
			minutes := int(math.Ceil(allowed.Sub(now).Minutes()))
			return &Error{
				Kind:             ErrTooEarly,
				Op:               op,
				Message:          fmt.Sprintf("no-show can be recorded in %d minutes", minutes),
				MinutesRemaining: minutes,
			}
		}

		from := c.Status
		c.Status = model.ConsultationStatusNoShow
		if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationNoShow, &actor, ""); err != nil {
			return err
		}
		return newOutbox(s.loc, now, c, TopicFor(c.Status)).
			to(c.FarmerID, "You missed your consultation with %s", expertName(ctx, tx, c.ExpertID)).
			flush(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	s.calendar.invalidateSlots(ctx, c.ExpertID)
	return c, nil
}

// Reschedule moves a pending or confirmed consultation to a new start time.
// The conflict check ignores the consultation being moved.
func (s *ConsultationService) Reschedule(
	ctx context.Context,
	actor, id uuid.UUID,
	newStart time.Time,
) (_ *model.Consultation, err error) {
	const op = "Reschedule"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	if newStart.IsZero() {
		return nil, invalidArgument(op, "scheduled_at is required")
	}
	newStart = newStart.UTC().Truncate(time.Minute)

	c, err := s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireParticipant(op, c, actor); err != nil {
			return err
		}
		if c.Status != model.ConsultationStatusPending && c.Status != model.ConsultationStatusConfirmed {
			return invalidState(op, "consultation is %s and cannot be rescheduled", c.Status)
		}
		if c.ScheduledAt.Equal(newStart) {
			return nil
		}
		if _, err := tx.Experts.LockByUserID(ctx, c.ExpertID); err != nil {
			return fmt.Errorf("%s: lock expert: %w", op, err)
		}
		reason, err := s.calendar.checkSlot(ctx, tx, c.ExpertID, newStart, c.DurationMinutes, &c.ID)
		if err != nil {
			return fmt.Errorf("%s: check slot: %w", op, err)
		}
		if reason != "" {
			return slotUnavailable(op, reason)
		}

		previous := c.ScheduledAt
		c.ScheduledAt = newStart
		c.ReminderSentAt = nil
		details := fmt.Sprintf("%s -> %s", previous.Format(time.RFC3339), newStart.Format(time.RFC3339))
		if err := s.persist(ctx, tx, op, c, c.Status, model.EventTypeConsultationRescheduled, &actor, details); err != nil {
			return err
		}
		w := newOutbox(s.loc, now, c, "consultation.rescheduled").
			with("previous_scheduled_at", previous.Format(time.RFC3339))
		label := w.slotLabel()
		return w.to(c.FarmerID, "Your consultation has been moved to %s", label).
			to(c.ExpertID, "Consultation moved to %s", label).
			flush(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	s.calendar.invalidateSlots(ctx, c.ExpertID)
	return c, nil
}

// GetSessionCredentials admits a participant to the call. The expert joining a
// confirmed consultation starts it; the room is persisted before any provider call.
func (s *ConsultationService) GetSessionCredentials(ctx context.Context, actor, id uuid.UUID) (_ *SessionGrant, err error) {
	const op = "GetSessionCredentials"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	c, err := s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireParticipant(op, c, actor); err != nil {
			return err
		}
		if c.Status != model.ConsultationStatusConfirmed && c.Status != model.ConsultationStatusInProgress {
			return invalidState(op, "consultation is %s", c.Status)
		}
		if c.PaymentStatus != model.PaymentStatusPaid {
			return invalidState(op, "payment has not been completed")
		}
		if err := admit(op, c, now); err != nil {
			return err
		}

		if actor == c.ExpertID && c.Status == model.ConsultationStatusConfirmed {
			return s.startLocked(ctx, tx, op, c, actor, now)
		}
		if c.CallRoomID == nil {
			room := s.sessions.AllocateChannel(c.ID, now)
			c.CallRoomID = &room
			if err := tx.Consultations.Save(ctx, c); err != nil {
				return fmt.Errorf("%s: save room: %w", op, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.externalTimeout)
	defer cancel()
	started := time.Now()
	cred, err := s.sessions.Issue(cctx, session.Request{
		Channel: *c.CallRoomID,
		Type:    c.Type,
		UserID:  actor,
		PeerID:  otherParty(c, actor),
	})
	observability.ObserveExternalCall("session", "issue", started, err)
	if err != nil {
		return nil, externalFailure(op, "session provider", err)
	}
	return &SessionGrant{Consultation: c, Credential: cred}, nil
}

// SubmitReview stores the farmer's review of a completed consultation and
// folds the rating into the expert's average in the same transaction.
func (s *ConsultationService) SubmitReview(
	ctx context.Context,
	actor, id uuid.UUID,
	in ReviewInput,
) (_ *ReviewResult, err error) {
	const op = "SubmitReview"
	ctx, done := s.begin(ctx, op, id)
	defer done(&err)
	now := s.clock()

	if in.Rating < 1 || in.Rating > 5 {
		return nil, invalidArgument(op, "rating must be between 1 and 5")
	}

	var res ReviewResult
	_, err = s.mutate(ctx, op, id, func(tx *repository.Store, c *model.Consultation) error {
		if err := requireFarmer(op, c, actor); err != nil {
			return err
		}
		if c.Status != model.ConsultationStatusCompleted {
			return invalidState(op, "only completed consultations can be reviewed")
		}
		existing, err := tx.Reviews.GetByConsultationID(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("%s: load review: %w", op, err)
		}
		if existing != nil {
			return newError(ErrAlreadyReviewed, op, "consultation has already been reviewed")
		}

		review := &model.Review{
			ConsultationID: c.ID,
			FarmerID:       c.FarmerID,
			ExpertID:       c.ExpertID,
			Rating:         in.Rating,
			ReviewText:     strings.TrimSpace(in.ReviewText),
			WasHelpful:     in.WasHelpful,
			WouldRecommend: in.WouldRecommend,
			CreatedAt:      now,
		}
		if err := tx.Reviews.Create(ctx, review); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return newError(ErrAlreadyReviewed, op, "consultation has already been reviewed")
			}
			return fmt.Errorf("%s: create review: %w", op, err)
		}

		update, err := applyRating(ctx, tx, op, c.ExpertID, in.Rating)
		if err != nil {
			return err
		}
		res = ReviewResult{Review: review, RatingUpdate: update}

		if err := tx.Events.Record(ctx, &model.ConsultationEvent{
			ConsultationID: c.ID,
			EventType:      model.EventTypeReviewSubmitted,
			FromStatus:     c.Status,
			ToStatus:       c.Status,
			ActorID:        &actor,
			Details:        fmt.Sprintf("rating %d", in.Rating),
		}); err != nil {
			return err
		}

		w := newOutbox(s.loc, now, c, "consultation.reviewed")
		w.kind = metadataTypeReview
		return w.with("rating", fmt.Sprint(in.Rating)).
			to(c.ExpertID, "You received a new %d-star review", in.Rating).
			flush(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordReview folds one rating into the expert's running average atomically.
func (s *ConsultationService) RecordReview(ctx context.Context, expertID uuid.UUID, value int) (RatingUpdate, error) {
	const op = "RecordReview"
	if value < 1 || value > 5 {
		return RatingUpdate{}, invalidArgument(op, "rating must be between 1 and 5")
	}
	return applyRating(ctx, s.store, op, expertID, value)
}

func applyRating(ctx context.Context, st *repository.Store, op string, expertID uuid.UUID, value int) (RatingUpdate, error) {
	rating, total, err := st.Experts.ApplyRating(ctx, expertID, value)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RatingUpdate{}, newError(ErrExpertNotFound, op, "expert %s not found", expertID)
	}
	if err != nil {
		return RatingUpdate{}, fmt.Errorf("%s: apply rating: %w", op, err)
	}
	return RatingUpdate{Rating: rating, TotalReviews: total}, nil
}

// ExpertReviews: страница отзывов эксперта и агрегаты по всем его отзывам.
type ExpertReviews struct {
	calendar.Page[model.Review]
	Stats repository.ReviewStats
}

// ListExpertReviews is public: any caller may read an expert's reviews.
// An empty sort means most recent first.
func (s *ConsultationService) ListExpertReviews(
	ctx context.Context,
	expertID uuid.UUID,
	sort repository.ReviewSort,
	page, pageSize int,
) (*ExpertReviews, error) {
	const op = "ListExpertReviews"
	if sort == "" {
		sort = repository.ReviewSortRecent
	}
	if !sort.Valid() {
		return nil, invalidArgument(op, "unknown sort %q", sort)
	}
	if _, err := s.calendar.getExpert(ctx, s.store, op, expertID); err != nil {
		return nil, err
	}

	stats, err := s.store.Reviews.StatsByExpert(ctx, expertID)
	if err != nil {
		return nil, fmt.Errorf("%s: stats: %w", op, err)
	}
	page, pageSize, offset := calendar.Normalize(page, pageSize)
	rows, err := s.store.Reviews.ListByExpert(ctx, expertID, sort, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ExpertReviews{
		Page:  calendar.NewPage(rows, page, pageSize, stats.Total),
		Stats: stats,
	}, nil
}

func (s *ConsultationService) load(ctx context.Context, op string, id uuid.UUID) (*model.Consultation, error) {
	c, err := s.store.Consultations.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrConsultationNotFound, op, "consultation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load consultation: %w", op, err)
	}
	return c, nil
}

func (s *ConsultationService) Get(ctx context.Context, actor, id uuid.UUID) (*model.Consultation, error) {
	const op = "Get"
	c, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(op, c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

// History returns the audit trail of a consultation, oldest first.
func (s *ConsultationService) History(ctx context.Context, actor, id uuid.UUID) ([]model.ConsultationEvent, error) {
	const op = "History"
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	events, err := s.store.Events.ListByConsultation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

func (s *ConsultationService) List(ctx context.Context, actor uuid.UUID, q ListQuery) (calendar.Page[model.Consultation], error) {
	const op = "List"
	if actor == uuid.Nil {
		return calendar.Page[model.Consultation]{}, unauthorized(op, "caller identity is required")
	}
	for _, st := range q.Statuses {
		if !st.Valid() {
			return calendar.Page[model.Consultation]{}, invalidArgument(op, "unknown status %q", st)
		}
	}
	return s.list(ctx, op, repository.ConsultationFilter{UserID: actor, Role: q.Role, Statuses: q.Statuses}, q.Page, q.PageSize)
}

// PendingRequests is the expert's queue of paid requests waiting for a decision.
func (s *ConsultationService) PendingRequests(ctx context.Context, actor uuid.UUID, page, pageSize int) (calendar.Page[model.Consultation], error) {
	return s.list(ctx, "PendingRequests", repository.ConsultationFilter{
		UserID:   actor,
		Role:     repository.ParticipantExpert,
		Statuses: []model.ConsultationStatus{model.ConsultationStatusPending},
		PaidOnly: true,
	}, page, pageSize)
}

func (s *ConsultationService) list(
	ctx context.Context,
	op string,
	f repository.ConsultationFilter,
	page, pageSize int,
) (calendar.Page[model.Consultation], error) {
	page, pageSize, offset := calendar.Normalize(page, pageSize)
	f.Limit, f.Offset = pageSize, offset
	rows, total, err := s.store.Consultations.List(ctx, f)
	if err != nil {
		return calendar.Page[model.Consultation]{}, fmt.Errorf("%s: %w", op, err)
	}
	return calendar.NewPage(rows, page, pageSize, total), nil
}

// ExpireUnpaid cancels pending bookings whose payment window has elapsed.
// It returns how many consultations were expired.
func (s *ConsultationService) ExpireUnpaid(ctx context.Context) (int, error) {
	const op = "ExpireUnpaid"
	now := s.clock()
	rows, err := s.store.Consultations.ListUnpaidBefore(ctx, now.Add(-PaymentWindow), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	expired := 0
	for _, r := range rows {
		changed := false
		_, err := s.mutate(ctx, op, r.ID, func(tx *repository.Store, c *model.Consultation) error {
			if c.Status != model.ConsultationStatusPending ||
				(c.PaymentStatus != model.PaymentStatusPending && c.PaymentStatus != model.PaymentStatusFailed) {
				return nil
			}
			reason := ExpiredPaymentReason
			from := c.Status
			c.Status = model.ConsultationStatusCancelled
			c.CancellationReason = &reason
			c.CancelledAt = &now
			if err := s.persist(ctx, tx, op, c, from, model.EventTypeConsultationExpired, nil, reason); err != nil {
				return err
			}
			changed = true
			w := newOutbox(s.loc, now, c, TopicFor(c.Status))
			return w.to(c.FarmerID, "Your booking for %s expired because payment was not completed within 30 minutes", w.slotLabel()).
				flush(ctx, tx)
		})
		observability.ObserveWorkerItem("payment_reaper", err)
		if err != nil {
			s.logger.Error("expire unpaid consultation", zap.String("consultation_id", r.ID.String()), zap.Error(err))
			continue
		}
		if changed {
			expired++
			s.calendar.invalidateSlots(ctx, r.ExpertID)
		}
	}
	return expired, nil
}

// SendDueReminders enqueues one reminder per participant for confirmed
// consultations starting within lead.
func (s *ConsultationService) SendDueReminders(ctx context.Context, lead time.Duration) (int, error) {
	const op = "SendDueReminders"
	now := s.clock()
	rows, err := s.store.Consultations.ListDueReminders(ctx, now, now.Add(lead), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	sent := 0
	for _, r := range rows {
		changed := false
		_, err := s.mutate(ctx, op, r.ID, func(tx *repository.Store, c *model.Consultation) error {
			if c.Status != model.ConsultationStatusConfirmed || c.ReminderSentAt != nil {
				return nil
			}
			c.ReminderSentAt = &now
			if err := tx.Consultations.Save(ctx, c); err != nil {
				return err
			}
			changed = true
			w := newOutbox(s.loc, now, c, "consultation.reminder")
			w.kind, w.title = metadataTypeReminder, reminderTitle
			label := w.slotLabel()
			return w.to(c.FarmerID, "Your consultation with %s starts %s", expertName(ctx, tx, c.ExpertID), label).
				to(c.ExpertID, "Your consultation with a farmer starts %s", label).
				flush(ctx, tx)
		})
		observability.ObserveWorkerItem("reminders", err)
		if err != nil {
			s.logger.Error("send consultation reminder", zap.String("consultation_id", r.ID.String()), zap.Error(err))
			continue
		}
		if changed {
			sent++
		}
	}
	return sent, nil
}
