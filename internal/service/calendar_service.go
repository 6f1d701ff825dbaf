package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
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
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
)

// Причины отказа в слоте, возвращаемые клиенту как есть.
const (
	ReasonAdvanceNotice     = "Bookings must be made at least 24 hours in advance"
	ReasonExpertUnavailable = "Expert is not available at the requested time"
	ReasonSlotBooked        = "Time slot is already booked"
)

// Slot: бронируемый интервал эксперта.
type Slot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	// Available всегда true: занятые слоты в выдачу не попадают.
	Available bool `json:"available"`
}

// SlotCheck: результат проверки конкретного интервала.
type SlotCheck struct {
	Available bool
	Reason    string
}

// WindowInput: одно еженедельное окно в запросе эксперта. Время в формате "15:04".
type WindowInput struct {
	DayOfWeek           int
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	IsAvailable         bool
}

// CalendarService отвечает за расписание экспертов: окна доступности,
// исключения по датам, генерацию слотов, проверку конфликтов и расчёт стоимости.
type CalendarService struct {
	store    *repository.Store
	loc      *time.Location
	now      func() time.Time
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewCalendarService(store *repository.Store, opts Options) *CalendarService {
	opts = opts.withDefaults()
	return &CalendarService{
		store:    store,
		loc:      opts.Location,
		now:      opts.Now,
		cache:    opts.Cache,
		cacheTTL: opts.SlotCacheTTL,
		logger:   opts.Logger,
		tracer:   tracer(),
	}
}

// Location: часовой пояс, в котором заданы окна экспертов.
func (s *CalendarService) Location() *time.Location { return s.loc }

func (s *CalendarService) getExpert(ctx context.Context, st *repository.Store, op string, expertID uuid.UUID) (*model.ExpertProfile, error) {
	expert, err := st.Experts.GetByUserID(ctx, expertID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrExpertNotFound, op, "expert %s not found", expertID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load expert: %w", op, err)
	}
	return expert, nil
}

// SetWeeklyAvailability заменяет еженедельное расписание эксперта целиком.
func (s *CalendarService) SetWeeklyAvailability(
	ctx context.Context,
	actor, expertID uuid.UUID,
	windows []WindowInput,
) ([]model.WeeklyAvailability, error) {
	const op = "SetWeeklyAvailability"

	if actor != expertID {
		return nil, unauthorized(op, "only the expert can change their availability")
	}
	rows, err := buildWeeklyRows(op, expertID, windows)
	if err != nil {
		return nil, err
	}
	if _, err := s.getExpert(ctx, s.store, op, expertID); err != nil {
		return nil, err
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		return tx.Availability.ReplaceWeekly(ctx, expertID, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateSlots(ctx, expertID)
	s.logger.Info("weekly availability replaced",
		zap.String("expert_id", expertID.String()), zap.Int("windows", len(rows)))
	return rows, nil
}

func buildWeeklyRows(op string, expertID uuid.UUID, windows []WindowInput) ([]model.WeeklyAvailability, error) {
	rows := make([]model.WeeklyAvailability, 0, len(windows))
	byDay := make(map[int][]calendar.TimeRange)

	for i, w := range windows {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return nil, invalidArgument(op, "window %d: day_of_week must be between 0 and 6", i)
		}
		start, err := parseClock(w.StartTime)
		if err != nil {
			return nil, invalidArgument(op, "window %d: start_time: %v", i, err)
		}
		end, err := parseClock(w.EndTime)
		if err != nil {
			return nil, invalidArgument(op, "window %d: end_time: %v", i, err)
		}
		if end <= start {
			return nil, invalidArgument(op, "window %d: end_time must be after start_time", i)
		}
		slot := w.SlotDurationMinutes
		if slot == 0 {
			slot = model.DefaultSlotDurationMinutes
		}
		if slot < 0 || time.Duration(slot)*time.Minute > end-start {
			return nil, invalidArgument(op, "window %d: slot_duration_minutes must fit the window", i)
		}

		// Окна одного дня не должны пересекаться.
		tr := calendar.TimeRange{Start: time.Time{}.Add(start), End: time.Time{}.Add(end)}
		if overlap, _ := calendar.HasOverlap(tr, byDay[w.DayOfWeek]); overlap {
			return nil, invalidArgument(op, "window %d overlaps another window on day %d", i, w.DayOfWeek)
		}
		byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], tr)

		rows = append(rows, model.WeeklyAvailability{
			ExpertID:            expertID,
			DayOfWeek:           w.DayOfWeek,
			StartTime:           datatypes.Time(start),
			EndTime:             datatypes.Time(end),
			SlotDurationMinutes: slot,
			IsAvailable:         w.IsAvailable,
		})
	}
	return rows, nil
}

// parseClock принимает "15:04" или "15:04:05" и возвращает смещение от полуночи.
func parseClock(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	layout := "15:04"
	if strings.Count(v, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

func (s *CalendarService) ListWeeklyAvailability(ctx context.Context, expertID uuid.UUID) ([]model.WeeklyAvailability, error) {
	const op = "ListWeeklyAvailability"
	if _, err := s.getExpert(ctx, s.store, op, expertID); err != nil {
		return nil, err
	}
	rows, err := s.store.Availability.ListWeekly(ctx, expertID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// SetDateOverride включает или выключает календарную дату эксперта.
func (s *CalendarService) SetDateOverride(
	ctx context.Context,
	actor, expertID uuid.UUID,
	date time.Time,
	isAvailable bool,
	reason string,
) (*model.DateOverride, error) {
	const op = "SetDateOverride"

	if actor != expertID {
		return nil, unauthorized(op, "only the expert can change their availability")
	}
	if date.IsZero() {
		return nil, invalidArgument(op, "date is required")
	}
	if _, err := s.getExpert(ctx, s.store, op, expertID); err != nil {
		return nil, err
	}

	o := &model.DateOverride{
		ExpertID:    expertID,
		Date:        datatypes.Date(calendar.CivilDate(date, s.loc)),
		IsAvailable: isAvailable,
		Reason:      reason,
	}
	if err := s.store.Availability.UpsertOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidateSlots(ctx, expertID)
	return o, nil
}

// DeleteDateOverride возвращает дате еженедельное расписание. false: исключения не было.
func (s *CalendarService) DeleteDateOverride(ctx context.Context, actor, expertID uuid.UUID, date time.Time) (bool, error) {
	const op = "DeleteDateOverride"
	if actor != expertID {
		return false, unauthorized(op, "only the expert can change their availability")
	}
	deleted, err := s.store.Availability.DeleteOverride(ctx, expertID, calendar.CivilDate(date, s.loc))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if deleted {
		s.invalidateSlots(ctx, expertID)
	}
	return deleted, nil
}

func (s *CalendarService) ListDateOverrides(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]model.DateOverride, error) {
	const op = "ListDateOverrides"
	fromDate, toDate := calendar.CivilDate(from, s.loc), calendar.CivilDate(to, s.loc)
	if toDate.Before(fromDate) {
		return nil, invalidArgument(op, "to must not be before from")
	}
	rows, err := s.store.Availability.ListOverrides(ctx, expertID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// GenerateSlots строит свободные слоты эксперта на календарную дату date (в поясе расписания).
//
// Слот попадает в выдачу, если он начинается не раньше чем через 24 часа
// и ни одна активная консультация эксперта не начинается в тот же момент.
// Отсутствующий или неактивный эксперт: ErrExpertNotFound.
func (s *CalendarService) GenerateSlots(ctx context.Context, expertID uuid.UUID, date time.Time) ([]Slot, error) {
	const op = "GenerateSlots"
	ctx, span := s.tracer.Start(ctx, "calendar.GenerateSlots",
		trace.WithAttributes(attribute.String("expert.id", expertID.String())))
	defer span.End()

	// Профиль проверяется до кэша: деактивация не должна ждать TTL.
	expert, err := s.getExpert(ctx, s.store, op, expertID)
	if err != nil {
		return nil, err
	}
	if !expert.IsActive {
		return nil, newError(ErrExpertNotFound, op, "expert %s is not accepting consultations", expertID)
	}

	day := calendar.CivilDate(date, s.loc)
	key := slotCacheKey(expertID, day)
	if cached, ok := s.cachedSlots(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	windows, err := s.windowsOn(ctx, s.store, expertID, day)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slots := make([]Slot, 0)
	if len(windows) > 0 {
		dayStart := calendar.OnDate(day, 0, s.loc)
		booked, err := s.store.Consultations.ListActiveForExpert(ctx, expertID,
			dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC(), nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		taken := make(map[int64]struct{}, len(booked))
		for _, c := range booked {
			taken[c.ScheduledAt.Unix()] = struct{}{}
		}

		earliest := s.now().Add(MinAdvance)
		for _, w := range windows {
			parts, err := calendar.SplitToTimeSlots(w.Range, time.Duration(w.SlotMinutes)*time.Minute)
			if err != nil {
				s.logger.Warn("skip malformed availability window",
					zap.String("expert_id", expertID.String()), zap.Error(err))
				continue
			}
			for _, p := range parts {
				if p.Start.Before(earliest) {
					continue
				}
				if _, ok := taken[p.Start.Unix()]; ok {
					continue
				}
				slots = append(slots, Slot{Start: p.Start, End: p.End, DurationMinutes: w.SlotMinutes, Available: true})
			}
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	}

	s.storeSlots(ctx, key, slots)
	span.SetAttributes(attribute.Int("slots.count", len(slots)))
	return slots, nil
}

type window struct {
	Range       calendar.TimeRange
	SlotMinutes int
}

// windowsOn возвращает рабочие окна эксперта на дату с учётом исключений.
func (s *CalendarService) windowsOn(ctx context.Context, st *repository.Store, expertID uuid.UUID, day time.Time) ([]window, error) {
	override, err := st.Availability.GetOverride(ctx, expertID, day)
	if err != nil {
		return nil, err
	}
	if override != nil && !override.IsAvailable {
		return nil, nil
	}

	rows, err := st.Availability.ListWeeklyForDay(ctx, expertID, day.Weekday())
	if err != nil {
		return nil, err
	}
	out := make([]window, 0, len(rows))
	for _, r := range rows {
		minutes := r.SlotDurationMinutes
		if minutes <= 0 {
			minutes = model.DefaultSlotDurationMinutes
		}
		out = append(out, window{
			Range: calendar.TimeRange{
				Start: calendar.OnDate(day, r.StartOffset(), s.loc),
				End:   calendar.OnDate(day, r.EndOffset(), s.loc),
			},
			SlotMinutes: minutes,
		})
	}
	return out, nil
}

// IsSlotAvailable проверяет, можно ли забронировать [start, start+duration) у эксперта.
func (s *CalendarService) IsSlotAvailable(
	ctx context.Context,
	expertID uuid.UUID,
	start time.Time,
	durationMinutes int,
) (SlotCheck, error) {
	const op = "IsSlotAvailable"
	if durationMinutes <= 0 || durationMinutes > MaxConsultationMinutes {
		return SlotCheck{}, invalidArgument(op, "duration_minutes must be between 1 and %d", MaxConsultationMinutes)
	}
	if _, err := s.getExpert(ctx, s.store, op, expertID); err != nil {
		return SlotCheck{}, err
	}
	reason, err := s.checkSlot(ctx, s.store, expertID, start, durationMinutes, nil)
	if err != nil {
		return SlotCheck{}, fmt.Errorf("%s: %w", op, err)
	}
	return SlotCheck{Available: reason == "", Reason: reason}, nil
}

// checkSlot возвращает причину отказа или "" если интервал свободен.
// st может быть транзакционным Store; exclude исключает консультацию из проверки (перенос).
func (s *CalendarService) checkSlot(
	ctx context.Context,
	st *repository.Store,
	expertID uuid.UUID,
	start time.Time,
	durationMinutes int,
	exclude *uuid.UUID,
) (string, error) {
	requested := calendar.RangeFor(start.UTC(), durationMinutes)

	if requested.Start.Before(s.now().Add(MinAdvance)) {
		return ReasonAdvanceNotice, nil
	}

	windows, err := s.windowsOn(ctx, st, expertID, calendar.CivilDate(requested.Start, s.loc))
	if err != nil {
		return "", err
	}
	covered := false
	for _, w := range windows {
		if w.Range.Covers(requested) {
			covered = true
			break
		}
	}
	if !covered {
		return ReasonExpertUnavailable, nil
	}

	// Консультация длиннее MaxConsultationMinutes не создаётся, поэтому
	// пересекающиеся начинаются не раньше start-MaxConsultationMinutes.
	from := requested.Start.Add(-MaxConsultationMinutes * time.Minute)
	booked, err := st.Consultations.ListActiveForExpert(ctx, expertID, from.UTC(), requested.End.UTC(), exclude)
	if err != nil {
		return "", err
	}
	for _, c := range booked {
		if calendar.Overlaps(calendar.RangeFor(c.ScheduledAt, c.DurationMinutes), requested) {
			return ReasonSlotBooked, nil
		}
	}
	return "", nil
}

// CalculateFee считает стоимость консультации у эксперта заданной длительности.
func (s *CalendarService) CalculateFee(ctx context.Context, expertID uuid.UUID, durationMinutes int) (billing.Fee, error) {
	const op = "CalculateFee"
	if durationMinutes <= 0 || durationMinutes > MaxConsultationMinutes {
		return billing.Fee{}, invalidArgument(op, "duration_minutes must be between 1 and %d", MaxConsultationMinutes)
	}
	expert, err := s.getExpert(ctx, s.store, op, expertID)
	if err != nil {
		return billing.Fee{}, err
	}
	return priceFor(op, expert, durationMinutes)
}

func priceFor(op string, expert *model.ExpertProfile, durationMinutes int) (billing.Fee, error) {
	fee, err := billing.ComputeFee(expert.ConsultationFee, durationMinutes, expert.Currency)
	if err != nil {
		return billing.Fee{}, invalidArgument(op, "%v", err)
	}
	return fee, nil
}

// ExpertProfileInput: изменяемые экспертом поля профиля.
type ExpertProfileInput struct {
	DisplayName     string
	Specialization  string
	ConsultationFee decimal.Decimal
	Currency        string
	Languages       []string
	IsActive        bool
}

// UpsertExpertProfile создаёт или обновляет профиль эксперта. Рейтинг не трогается.
func (s *CalendarService) UpsertExpertProfile(ctx context.Context, actor uuid.UUID, in ExpertProfileInput) (*model.ExpertProfile, error) {
	const op = "UpsertExpertProfile"
	if actor == uuid.Nil {
		return nil, unauthorized(op, "caller identity is required")
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, invalidArgument(op, "display_name is required")
	}
	if !in.ConsultationFee.IsPositive() {
		return nil, invalidArgument(op, "consultation_fee must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = billing.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, invalidArgument(op, "currency must be an ISO 4217 code")
	}

	p := &model.ExpertProfile{
		UserID:          actor,
		DisplayName:     strings.TrimSpace(in.DisplayName),
		Specialization:  in.Specialization,
		ConsultationFee: in.ConsultationFee.Round(2),
		Currency:        currency,
		Languages:       datatypes.JSONSlice[string](in.Languages),
		IsActive:        in.IsActive,
	}
	if err := s.store.Experts.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidateSlots(ctx, actor)
	return s.getExpert(ctx, s.store, op, actor)
}

func (s *CalendarService) GetExpert(ctx context.Context, expertID uuid.UUID) (*model.ExpertProfile, error) {
	return s.getExpert(ctx, s.store, "GetExpert", expertID)
}

func slotCacheKey(expertID uuid.UUID, day time.Time) string {
	return slotCachePrefix(expertID) + day.Format(time.DateOnly)
}

func slotCachePrefix(expertID uuid.UUID) string {
	return "slots:" + expertID.String() + ":"
}

func (s *CalendarService) cachedSlots(ctx context.Context, key string) ([]Slot, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("slot cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var slots []Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false
	}
	// Слот, ушедший за 24-часовую границу после записи в кэш, уже не предлагается.
	earliest := s.now().Add(MinAdvance)
	out := slots[:0]
	for _, sl := range slots {
		if !sl.Start.Before(earliest) {
			out = append(out, sl)
		}
	}
	return out, true
}

func (s *CalendarService) storeSlots(ctx context.Context, key string, slots []Slot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.logger.Warn("slot cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidateSlots сбрасывает все закэшированные дни эксперта.
func (s *CalendarService) invalidateSlots(ctx context.Context, expertID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPrefix(ctx, slotCachePrefix(expertID)); err != nil {
		s.logger.Warn("slot cache invalidation failed",
			zap.String("expert_id", expertID.String()), zap.Error(err))
	}
}
