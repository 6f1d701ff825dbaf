package worker

import (
	"context"
	"time"
)

const (
	JobPaymentReaper = "payment_reaper"
	JobReminders     = "reminders"
	JobOutbox        = "outbox"
)

type PaymentReaper interface {
	ExpireUnpaid(ctx context.Context) (int, error)
}

type ReminderSender interface {
	SendDueReminders(ctx context.Context, lead time.Duration) (int, error)
}

type OutboxDrainer interface {
	Drain(ctx context.Context) (int, error)
}

// ReaperJob cancels bookings whose payment window has elapsed.
func ReaperJob(s PaymentReaper, every time.Duration) Job {
	return Job{Name: JobPaymentReaper, Interval: every, Run: s.ExpireUnpaid}
}

// ReminderJob notifies both parties about consultations starting within lead.
func ReminderJob(s ReminderSender, every, lead time.Duration) Job {
	return Job{
		Name:     JobReminders,
		Interval: every,
		Run: func(ctx context.Context) (int, error) {
			return s.SendDueReminders(ctx, lead)
		},
	}
}

func OutboxJob(d OutboxDrainer, every time.Duration) Job {
	return Job{Name: JobOutbox, Interval: every, Run: d.Drain}
}
