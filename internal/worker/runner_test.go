package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

type memLease struct {
	l    *memLocker
	name string
}

func (l *memLease) Release(context.Context) error {
	l.l.mu.Lock()
	defer l.l.mu.Unlock()
	delete(l.l.held, l.name)
	l.l.released = append(l.l.released, l.name)
	return nil
}

func (m *memLocker) Acquire(_ context.Context, name string, _ time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if m.held[name] {
		return nil, false, nil
	}
	if m.held == nil {
		m.held = map[string]bool{}
	}
	m.held[name] = true
	return &memLease{l: m, name: name}, true, nil
}

type countingReaper struct{ calls atomic.Int32 }

func (c *countingReaper) ExpireUnpaid(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, nil
}

func TestRunner_RunOnceTakesAndReleasesLock(t *testing.T) {
	locker := &memLocker{}
	r := NewRunner(locker, time.Second, zap.NewNop())
	reaper := &countingReaper{}
	job := ReaperJob(reaper, time.Minute)

	r.RunOnce(context.Background(), job)
	assert.EqualValues(t, 1, reaper.calls.Load())
	assert.Equal(t, []string{JobPaymentReaper}, locker.released)

	// Лок у другой реплики: прогон пропускается.
	locker.held = map[string]bool{JobPaymentReaper: true}
	r.RunOnce(context.Background(), job)
	assert.EqualValues(t, 1, reaper.calls.Load())

	locker.held = nil
	locker.err = errors.New("redis down")
	r.RunOnce(context.Background(), job)
	assert.EqualValues(t, 1, reaper.calls.Load())
}

func TestRunner_RecoversFromPanic(t *testing.T) {
	r := NewRunner(nil, 0, zap.NewNop())
	assert.NotPanics(t, func() {
		r.RunOnce(context.Background(), Job{
			Name:     "boom",
			Interval: time.Second,
			Run:      func(context.Context) (int, error) { panic("boom") },
		})
	})
}

type leadRecorder struct {
	mu   sync.Mutex
	lead time.Duration
}

func (l *leadRecorder) SendDueReminders(_ context.Context, lead time.Duration) (int, error) {
	l.mu.Lock()
	l.lead = lead
	l.mu.Unlock()
	return 0, nil
}

func TestRunner_StartRunsImmediatelyAndStops(t *testing.T) {
	r := NewRunner(nil, 0, zap.NewNop())
	reaper := &countingReaper{}
	reminders := &leadRecorder{}
	require.NoError(t, r.Register(ReaperJob(reaper, 10*time.Millisecond)))
	require.NoError(t, r.Register(ReminderJob(reminders, time.Hour, 60*time.Minute)))
	assert.Error(t, r.Register(ReaperJob(reaper, time.Second)), "duplicate name")
	assert.Error(t, r.Register(Job{Name: "x", Run: reaper.ExpireUnpaid}), "zero interval")

	r.Start(context.Background())
	require.Eventually(t, func() bool { return reaper.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	r.Stop()

	after := reaper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, reaper.calls.Load())

	reminders.mu.Lock()
	defer reminders.mu.Unlock()
	assert.Equal(t, 60*time.Minute, reminders.lead)
}
