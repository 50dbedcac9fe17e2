package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Retention sweeps aged records out of the audit store on a cron schedule.
type Retention struct {
	store  *Store
	maxAge time.Duration
	sched  cron.Schedule
	logger zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewRetention parses a five-field cron expression and prepares a sweeper
// that deletes runs older than maxAge each time the schedule fires.
func NewRetention(store *Store, expr string, maxAge time.Duration, logger zerolog.Logger) (*Retention, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if maxAge <= 0 {
		return nil, errors.New("max age must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	return &Retention{
		store:  store,
		maxAge: maxAge,
		sched:  sched,
		logger: logger,
	}, nil
}

// Start schedules the next sweep. Starting an already running sweeper is a
// no-op.
func (r *Retention) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		return
	}
	r.stopped = false
	r.scheduleNextLocked()
}

// Stop cancels any pending sweep.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Sweep purges aged records immediately, outside the schedule.
func (r *Retention) Sweep(ctx context.Context) error {
	_, err := r.store.PurgeOlderThan(ctx, r.maxAge)
	return err
}

// scheduleNextLocked arms the timer for the next cron firing (must hold lock).
func (r *Retention) scheduleNextLocked() {
	next := r.sched.Next(time.Now())
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	r.timer = time.AfterFunc(delay, r.runSweep)
	r.logger.Debug().Time("next_run", next).Msg("Retention sweep scheduled")
}

func (r *Retention) runSweep() {
	if err := r.Sweep(context.Background()); err != nil {
		r.logger.Error().Err(err).Msg("Retention sweep failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.scheduleNextLocked()
}
