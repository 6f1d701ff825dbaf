package calendar

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrSlotDuration     = errors.New("slot duration must be positive")
)

// TimeRange представляет временной интервал [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange создаёт интервал и делает простую валидацию.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{Start: start, End: end}, nil
}

// RangeFor возвращает интервал [start, start+minutes).
func RangeFor(start time.Time, minutes int) TimeRange {
	return TimeRange{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

func (tr TimeRange) Duration() time.Duration { return tr.End.Sub(tr.Start) }

// Covers сообщает, лежит ли inner целиком внутри tr.
func (tr TimeRange) Covers(inner TimeRange) bool {
	return !inner.Start.Before(tr.Start) && !inner.End.After(tr.End)
}

// SplitToTimeSlots разбивает интервал на слоты фиксированной длительности.
// "Хвост" меньшей длительности, чем slotDuration, отбрасывается,
// поэтому каждый слот целиком лежит внутри tr.
func SplitToTimeSlots(tr TimeRange, slotDuration time.Duration) ([]TimeRange, error) {
	if slotDuration <= 0 {
		return nil, ErrSlotDuration
	}
	if !tr.End.After(tr.Start) {
		return []TimeRange{}, nil
	}

	var slots []TimeRange
	for cur := tr.Start; !cur.Add(slotDuration).After(tr.End); cur = cur.Add(slotDuration) {
		slots = append(slots, TimeRange{Start: cur, End: cur.Add(slotDuration)})
	}
	return slots, nil
}

// Overlaps: проверка пересечения существующей брони с запрошенным интервалом:
// existing.Start <= requested.Start < existing.End,
// или existing.Start < requested.End <= existing.End,
// или requested целиком накрывает existing.
func Overlaps(existing, requested TimeRange) bool {
	if !existing.Start.After(requested.Start) && requested.Start.Before(existing.End) {
		return true
	}
	if existing.Start.Before(requested.End) && !requested.End.After(existing.End) {
		return true
	}
	return !requested.Start.After(existing.Start) && !existing.End.After(requested.End)
}

// HasOverlap проверяет, пересекается ли newRange с existing, и возвращает конфликты.
func HasOverlap(newRange TimeRange, existing []TimeRange) (bool, []TimeRange) {
	var conflicts []TimeRange
	for _, tr := range existing {
		if Overlaps(tr, newRange) {
			conflicts = append(conflicts, tr)
		}
	}
	return len(conflicts) > 0, conflicts
}

// DateOnly обрезает время до полуночи в том же часовом поясе.
func DateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// CivilDate: календарная дата t в поясе loc, записанная как полночь UTC.
// В таком виде даты хранятся в date_overrides.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// OnDate строит момент времени: дата date (её календарные поля) плюс смещение от полуночи в loc.
func OnDate(date time.Time, offset time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := date.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc).Add(offset)
}

// FormatSlotForUser форматирует интервал в человекочитаемую строку,
// например "Monday, 06 Jan 2025, 10:00–10:30".
func FormatSlotForUser(tr TimeRange, loc *time.Location) string {
	start := tr.Start
	end := tr.End

	if loc != nil {
		start = start.In(loc)
		end = end.In(loc)
	}

	return fmt.Sprintf("%s, %s, %s–%s",
		start.Weekday(), start.Format("02 Jan 2006"), start.Format("15:04"), end.Format("15:04"))
}
