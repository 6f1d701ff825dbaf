// Package worker runs the periodic background sweeps of the consultation core:
// the payment reaper, reminders and the notification outbox.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/automotiv/khetisahayak-sub001/internal/cache"
	"github.com/automotiv/khetisahayak-sub001/internal/observability"
)

// Job is one periodic sweep. Run returns how many items it handled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Locker serializes a job across replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type redisLocker struct{ r *cache.Redis }

// NewRedisLocker backs Locker with SET NX locks in Redis.
func NewRedisLocker(r *cache.Redis) Locker { return redisLocker{r: r} }

func (l redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	lock, ok, err := l.r.TryLock(ctx, name, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lock, true, nil
}

type Runner struct {
	jobs    []Job
	locker  Locker // nil: одна реплика, лок не нужен
	lockTTL time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(locker Locker, lockTTL time.Duration, logger *zap.Logger) *Runner {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Runner{locker: locker, lockTTL: lockTTL, logger: logger.Named("worker")}
}

func (r *Runner) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("worker: job needs a name and a run func")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("worker: job %s: interval must be positive", job.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("worker: cannot register %s while running", job.Name)
	}
	for _, j := range r.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("worker: job %s already registered", job.Name)
		}
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Start launches one goroutine per job. Each job runs once immediately and
// then on every tick until Stop or ctx cancellation.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
	r.logger.Info("workers started", zap.Int("jobs", len(r.jobs)))
}

// Stop cancels the loops and waits for in-flight runs.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("workers stopped")
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes job under its lock. Panics are recovered and logged.
func (r *Runner) RunOnce(ctx context.Context, job Job) {
	log := r.logger.With(zap.String("job", job.Name))
	defer func() {
		if p := recover(); p != nil {
			log.Error("job panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	if r.locker != nil {
		lease, ok, err := r.locker.Acquire(ctx, job.Name, r.lockTTL)
		if err != nil {
			log.Warn("lock failed, skipping run", zap.Error(err))
			return
		}
		if !ok {
			log.Debug("job held by another replica")
			return
		}
		defer func() {
			// ctx уже может быть отменён при остановке; лок всё равно снимаем.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				log.Warn("lock release failed", zap.Error(err))
			}
		}()
	}

	started := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		observability.ObserveWorkerItem(job.Name, err)
		log.Error("job failed", zap.Int("handled", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("job finished", zap.Int("handled", n), zap.Duration("took", time.Since(started)))
	}
}
