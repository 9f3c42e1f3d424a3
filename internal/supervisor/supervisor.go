package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Status is the overall pipeline health as seen by the supervisor.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusHealthy      Status = "HEALTHY"
	StatusDegraded     Status = "DEGRADED"
	StatusPaused       Status = "PAUSED"
)

const (
	defaultProbeInterval = 60 * time.Second
	startupGrace         = 5 * time.Second
	probeTimeout         = 10 * time.Second
)

// Probe is one health check the supervisor runs every cycle. A probe
// with a Restart action gets it invoked when the check fails, so a
// stopped subsystem (the scheduler, a dropped broker connection) is
// brought back instead of just reported.
type Probe struct {
	Name    string
	Check   func(ctx context.Context) error
	Restart func(ctx context.Context) error
}

// Task is a long-running worker the supervisor owns, typically a queue
// consumer. Run must block until the worker exits; the supervisor
// respawns tasks whose Run returned while the pipeline is not paused.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Report is one snapshot of pipeline health. Checks maps probe and
// task names to "ok" or the failure text.
type Report struct {
	Timestamp time.Time         `json:"timestamp"`
	Status    Status            `json:"status"`
	Checks    map[string]string `json:"checks"`
}

type taskState struct {
	task Task
	done chan struct{}
}

func (t *taskState) alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Supervisor probes the pipeline's dependencies on an interval, keeps
// its consumer tasks alive, and broadcasts health reports to
// subscribers.
type Supervisor struct {
	probes   []Probe
	interval time.Duration

	mu      sync.Mutex
	paused  bool
	report  Report
	tasks   map[string]*taskState
	order   []string
	subs    map[chan Report]struct{}
	loopCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option tunes the supervisor.
type Option func(*Supervisor)

// WithInterval overrides the probe interval.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.interval = d }
}

// New builds a supervisor over the given probes.
func New(probes []Probe, opts ...Option) *Supervisor {
	s := &Supervisor{
		probes:   probes,
		interval: defaultProbeInterval,
		report:   Report{Status: StatusInitializing, Checks: map[string]string{}},
		tasks:    map[string]*taskState{},
		subs:     map[chan Report]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task before Start. Registration order is the spawn
// and report order.
func (s *Supervisor) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Name] = &taskState{task: t}
	s.order = append(s.order, t.Name)
}

// Start spawns the registered tasks, validates them after a short
// grace period, then settles into the probe loop. Starting a running
// supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCtx = loopCtx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	for _, name := range s.order {
		s.spawnLocked(loopCtx, name)
	}
	s.mu.Unlock()

	go s.loop(loopCtx)
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)

	// startup validation: give consumers a moment to connect, then
	// respawn anything that died on the way up
	select {
	case <-time.After(startupGrace):
	case <-ctx.Done():
		return
	}
	s.cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs every probe, restarts dead tasks, and broadcasts the
// resulting report.
func (s *Supervisor) cycle(ctx context.Context) {
	checks := map[string]string{}
	healthy := true

	for _, p := range s.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(probeCtx)
		cancel()
		if err == nil {
			checks[p.Name] = "ok"
			continue
		}
		healthy = false
		log.Printf("[Supervisor] probe %s failed: %v", p.Name, err)
		if p.Restart == nil || s.Paused() {
			checks[p.Name] = err.Error()
			continue
		}
		// the restart gets the loop context: whatever it starts should
		// live until the supervisor stops
		if rerr := p.Restart(ctx); rerr != nil {
			checks[p.Name] = fmt.Sprintf("restart failed: %v", rerr)
			log.Printf("[Supervisor] probe %s restart failed: %v", p.Name, rerr)
		} else {
			checks[p.Name] = "restarted"
			log.Printf("[Supervisor] probe %s: subsystem restarted", p.Name)
		}
	}

	s.mu.Lock()
	paused := s.paused
	for _, name := range s.order {
		st := s.tasks[name]
		if st.done == nil || st.alive() {
			checks[name] = "ok"
			continue
		}
		if paused {
			checks[name] = "stopped"
			continue
		}
		log.Printf("[Supervisor] task %s is down, restarting", name)
		s.spawnLocked(s.loopCtx, name)
		checks[name] = "restarted"
		healthy = false
	}

	status := StatusHealthy
	switch {
	case paused:
		status = StatusPaused
	case !healthy:
		status = StatusDegraded
	}
	s.report = Report{Timestamp: time.Now(), Status: status, Checks: checks}
	report := s.report
	subs := make([]chan Report, 0, len(s.subs))
	for ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- report:
		default: // slow subscriber, drop the snapshot
		}
	}
}

// spawnLocked starts one task goroutine. Caller holds s.mu.
func (s *Supervisor) spawnLocked(ctx context.Context, name string) {
	st := s.tasks[name]
	st.done = make(chan struct{})
	done := st.done
	run := st.task.Run
	go func() {
		defer close(done)
		if err := run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Supervisor] task %s exited: %v", name, err)
		}
	}()
}

// Pause stops restarting dead tasks, e.g. while an operator retunes the
// scheduler. Probes keep running.
func (s *Supervisor) Pause() {
	s.mu.Lock()
	s.paused = true
	s.report.Status = StatusPaused
	s.mu.Unlock()
	log.Printf("[Supervisor] paused")
}

// Resume re-enables task restarts; the next cycle recomputes health.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	log.Printf("[Supervisor] resumed")
}

// Paused reports whether restarts are suspended.
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Current returns the latest health report.
func (s *Supervisor) Current() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Subscribe returns a channel receiving each new health report. Call
// the returned cancel func when done.
func (s *Supervisor) Subscribe() (<-chan Report, func()) {
	ch := make(chan Report, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

// Stop cancels all tasks and the probe loop, then waits for the loop
// to exit.
func (s *Supervisor) Stop() {
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
	log.Printf("[Supervisor] stopped")
}
