// ABOUTME: Run completion protocol: poll a run until it reaches a terminal status
// ABOUTME: Sleeps through an injected Clock between fetches; MaxWait bounds the total wait

package agentsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultPollInterval is the delay between status checks.
const DefaultPollInterval = time.Second

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// RunGetter is the single operation the poll loop needs.
type RunGetter interface {
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
}

// ActionHandler is invoked when a run enters requires_action.
// No handler is wired by default; the waiter then keeps polling until the
// service moves the run on or MaxWait expires.
type ActionHandler interface {
	HandleRequiredAction(ctx context.Context, run *Run) error
}

// WaiterConfig configures a Waiter.
type WaiterConfig struct {
	Interval time.Duration
	// MaxWait bounds the total wait. Zero disables the bound.
	MaxWait time.Duration
	Clock   Clock
	Actions ActionHandler
	Logger  *slog.Logger
}

// Waiter polls runs until they are terminal.
type Waiter struct {
	runs     RunGetter
	interval time.Duration
	maxWait  time.Duration
	clock    Clock
	actions  ActionHandler
	logger   *slog.Logger
}

// NewWaiter creates a Waiter reading run status from runs.
func NewWaiter(runs RunGetter, cfg WaiterConfig) *Waiter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Waiter{
		runs:     runs,
		interval: cfg.Interval,
		maxWait:  cfg.MaxWait,
		clock:    cfg.Clock,
		actions:  cfg.Actions,
		logger:   cfg.Logger,
	}
}

// Wait re-fetches run every interval until its status is terminal and returns
// the terminal run. It does not judge the outcome; see CheckRun.
func (w *Waiter) Wait(ctx context.Context, run *Run) (*Run, error) {
	start := w.clock.Now()
	handled := false

	for !run.Status.Terminal() {
		if run.Status == RunStatusRequiresAction {
			if !handled && w.actions != nil {
				if err := w.actions.HandleRequiredAction(ctx, run); err != nil {
					return run, fmt.Errorf("handling required action for run %s: %w", run.ID, err)
				}
			}
			handled = true
		} else {
			handled = false
		}

		if w.maxWait > 0 && w.clock.Now().Sub(start) >= w.maxWait {
			return run, fmt.Errorf("run %s still %s after %s: %w", run.ID, run.Status, w.maxWait, ErrRunTimeout)
		}

		if err := w.clock.Sleep(ctx, w.interval); err != nil {
			return run, fmt.Errorf("waiting for run %s: %w", run.ID, err)
		}

		next, err := w.runs.GetRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("polling run %s: %w", run.ID, err)
		}
		if next.ThreadID == "" {
			next.ThreadID = run.ThreadID
		}
		if next.Status != run.Status {
			w.logger.Debug("run status changed",
				"run_id", run.ID,
				"thread_id", run.ThreadID,
				"from", run.Status,
				"to", next.Status)
		}
		run = next
	}

	return run, nil
}
