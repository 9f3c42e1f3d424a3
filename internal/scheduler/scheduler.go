package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/store"
)

// RunFunc is one scheduled cycle, typically the mailbox ingest run.
type RunFunc func(ctx context.Context) error

// Scheduler runs a job on a recurring interval. The interval comes
// from the database when an operator stored one there, otherwise from
// static config, and is re-resolved on every Restart.
type Scheduler struct {
	settings *store.SettingsRepo
	cfg      *config.Config
	jobName  string
	run      RunFunc

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	trigger  chan struct{}
}

// New builds a scheduler for one job.
func New(settings *store.SettingsRepo, cfg *config.Config, jobName string, run RunFunc) *Scheduler {
	return &Scheduler{
		settings: settings,
		cfg:      cfg,
		jobName:  jobName,
		run:      run,
		trigger:  make(chan struct{}, 1),
	}
}

// resolveInterval prefers the database-stored interval so operators can
// retune a running system; the config value is the fallback.
func (s *Scheduler) resolveInterval(ctx context.Context) time.Duration {
	unit, value, err := s.settings.SchedulerInterval(ctx, s.jobName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[Scheduler] stored interval unreadable, using config: %v", err)
		}
		return s.cfg.Scheduler.Interval()
	}
	return config.SchedulerConfig{IntervalUnit: unit, IntervalValue: value}.Interval()
}

// Start launches the schedule loop. The first cycle runs immediately.
// Starting an already running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.interval = s.resolveInterval(ctx)
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	log.Printf("[Scheduler] %s starting, interval %s", s.jobName, s.interval)
	go s.loop(loopCtx, s.interval, s.done)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	s.runOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.run(ctx); err != nil {
		log.Printf("[Scheduler] %s cycle failed: %v", s.jobName, err)
	}
}

// Stop halts the schedule loop and waits for an in-flight cycle to
// finish. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	log.Printf("[Scheduler] %s stopped", s.jobName)
}

// Restart stops the loop and starts it again with a freshly resolved
// interval. Used after an operator changes the stored interval.
func (s *Scheduler) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// TriggerNow requests an immediate cycle without disturbing the
// schedule. Coalesces when a trigger is already pending.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Running reports whether the schedule loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the interval the running loop was started with.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval persists a new interval and restarts the loop so it takes
// effect immediately.
func (s *Scheduler) SetInterval(ctx context.Context, unit string, value int) error {
	if err := s.settings.SetSchedulerInterval(ctx, s.jobName, unit, value); err != nil {
		return err
	}
	s.Restart(ctx)
	return nil
}
