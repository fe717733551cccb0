package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// DefaultRecoverySchedule is used when no schedule is configured.
const DefaultRecoverySchedule = "@every 5m"

// Reconciler runs the diff recovery pass on a cron schedule while the
// process is serving.
type Reconciler struct {
	app      *App
	cron     *rcron.Cron
	done     chan struct{}
	stopOnce sync.Once
	watching chan struct{} // closed when the ctx watcher returns
}

// StartRecovery schedules Review.Recover. An empty schedule uses
// DefaultRecoverySchedule. The job stops when ctx is done or Stop is called.
func (a *App) StartRecovery(ctx context.Context, schedule string) (*Reconciler, error) {
	if schedule == "" {
		schedule = DefaultRecoverySchedule
	}
	r := &Reconciler{app: a, cron: rcron.New(), done: make(chan struct{}), watching: make(chan struct{})}
	if _, err := r.cron.AddFunc(schedule, func() { r.run(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	a.Logger.Info("recovery scheduled", "schedule", schedule)

	go func() {
		defer close(r.watching)
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
	return r, nil
}

func (r *Reconciler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := r.app.Review.Recover(ctx)
	if err != nil {
		r.app.Logger.Error("scheduled recovery failed", "completed", n, "error", err)
		return
	}
	if n > 0 {
		r.app.Logger.Info("scheduled recovery completed diffs", "completed", n)
	}
}

// Stop halts the schedule and waits briefly for a running pass. Calls
// after the first return immediately.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *Reconciler) stop() {
	close(r.done)
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		r.app.Logger.Warn("recovery stop timed out waiting for a running pass")
	}
}
