package scheduler

import (
	"context"
	"time"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler runs deferred and periodic jobs until stopped. Stop cancels the
// shared context, which also cancels every outstanding handle.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

func (s *Scheduler) Stop() { s.cancel() }

func (s *Scheduler) Every(d time.Duration, job Job) { go s.loopEvery(d, job) }

// Handle is a cancellable deferred job. Stop is a no-op after the job fired.
type Handle struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// Stop cancels the pending job. It reports whether the job was still pending.
func (h *Handle) Stop() bool {
	h.cancel()
	return h.timer.Stop()
}

// After schedules job once after d and returns a cancellable handle.
func (s *Scheduler) After(d time.Duration, job Job) *Handle {
	ctx, cancel := context.WithCancel(s.ctx)
	t := time.AfterFunc(d, func() {
		select {
		case <-ctx.Done():
		default:
			job.Run(ctx)
		}
	})
	return &Handle{timer: t, cancel: cancel}
}

func (s *Scheduler) loopEvery(d time.Duration, job Job) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			job.Run(s.ctx)
		}
	}
}
