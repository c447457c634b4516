// Package scheduler runs named, unique, periodic background work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fentz26/recontrole/internal/lock"
)

// Outcome is the result a job reports for one run.
type Outcome int

const (
	// Success means the run is done until the next period.
	Success Outcome = iota
	// Retry asks for the run to be attempted again after a backoff.
	Retry
	// Failure means the run failed and should not be retried this period.
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Job is the unit of periodic work.
type Job interface {
	Run(ctx context.Context) Outcome
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) Outcome

// Run calls f.
func (f JobFunc) Run(ctx context.Context) Outcome { return f(ctx) }

// ExistingWorkPolicy decides what happens when work with the same name is
// already registered.
type ExistingWorkPolicy int

const (
	// Keep leaves the existing registration untouched.
	Keep ExistingWorkPolicy = iota
	// Replace cancels the existing registration and registers the new one.
	Replace
)

// Work describes a unique periodic job.
type Work struct {
	Name            string
	Period          time.Duration
	InitialDelay    time.Duration
	RequiresNetwork bool
	Job             Job
}

// State is the lifecycle state of registered work.
type State string

const (
	StateEnqueued  State = "ENQUEUED"
	StateRunning   State = "RUNNING"
	StateCancelled State = "CANCELLED"
)

// WorkInfo is a snapshot of registered work.
type WorkInfo struct {
	Name        string        `json:"name"`
	State       State         `json:"state"`
	Period      time.Duration `json:"period"`
	NextRun     time.Time     `json:"next_run"`
	LastRun     time.Time     `json:"last_run,omitempty"`
	LastOutcome string        `json:"last_outcome,omitempty"`
	Attempt     int           `json:"attempt"`
	Runs        int           `json:"runs"`
}

// NetworkProbe reports whether the network is usable.
type NetworkProbe func(ctx context.Context) bool

// TCPProbe returns a probe that dials addr.
func TCPProbe(addr string, timeout time.Duration) NetworkProbe {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

var (
	// ErrInvalidWork is returned for work without a name or job.
	ErrInvalidWork = errors.New("work needs a name and a job")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

type entry struct {
	work    Work
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
	info    WorkInfo
}

// Scheduler runs registered work on its period.
type Scheduler struct {
	config *Config
	locker lock.Locker
	probe  NetworkProbe
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker sets the locker guarding each run.
func WithLocker(l lock.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithNetworkProbe sets the probe used for work that requires the network.
func WithNetworkProbe(p NetworkProbe) Option {
	return func(s *Scheduler) { s.probe = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New creates a new scheduler.
func New(cfg *Config, opts ...Option) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		config:  cfg,
		locker:  lock.NewLocal(),
		logger:  slog.Default().With("component", "scheduler"),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueUniquePeriodic registers work under its name. It reports whether a
// new registration was made; with Keep an existing registration wins.
func (s *Scheduler) EnqueueUniquePeriodic(work Work, policy ExistingWorkPolicy) (bool, error) {
	if work.Name == "" || work.Job == nil {
		return false, ErrInvalidWork
	}

	if clamped := s.config.clampPeriod(work.Period); clamped != work.Period {
		s.logger.Warn("period below minimum, clamping", "work", work.Name, "requested", work.Period, "period", clamped)
		work.Period = clamped
	}
	if work.InitialDelay < 0 {
		work.InitialDelay = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	if existing, ok := s.entries[work.Name]; ok {
		if policy == Keep {
			s.mu.Unlock()
			s.logger.Debug("work already registered, keeping", "work", work.Name)
			return false, nil
		}
		s.removeLocked(existing)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		work:    work,
		cancel:  cancel,
		done:    make(chan struct{}),
		trigger: make(chan struct{}, 1),
		info: WorkInfo{
			Name:    work.Name,
			State:   StateEnqueued,
			Period:  work.Period,
			NextRun: time.Now().Add(work.InitialDelay),
		},
	}
	s.entries[work.Name] = e
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx, e)

	s.logger.Info("work registered",
		"work", work.Name,
		"period", work.Period,
		"initial_delay", work.InitialDelay,
		"requires_network", work.RequiresNetwork,
	)
	return true, nil
}

// removeLocked cancels e and drops it. The caller holds s.mu.
func (s *Scheduler) removeLocked(e *entry) {
	e.cancel()
	e.info.State = StateCancelled
	delete(s.entries, e.work.Name)
}

// Cancel cancels work by name. It reports whether anything was registered.
// A run in progress observes the cancellation through its context.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		s.removeLocked(e)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("work cancelled", "work", name)
	}
	return ok
}

// Status returns a snapshot of work by name.
func (s *Scheduler) Status(name string) (WorkInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return WorkInfo{}, false
	}
	return e.info, true
}

// IsActive reports whether work is registered and not cancelled.
func (s *Scheduler) IsActive(name string) bool {
	info, ok := s.Status(name)
	return ok && info.State != StateCancelled
}

// RunNow asks for an immediate run. Requests made while a run is already
// pending collapse into one.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return true
}

// Stop cancels all work and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, e := range s.entries {
		s.removeLocked(e)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// loop waits for the next period or an explicit trigger and runs the job.
func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	defer close(e.done)

	timer := time.NewTimer(e.work.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-e.trigger:
		}

		s.runWithRetry(ctx, e)
		if ctx.Err() != nil {
			return
		}

		timer.Reset(e.work.Period)
		s.update(e, func(info *WorkInfo) {
			info.NextRun = time.Now().Add(e.work.Period)
		})
	}
}

// runWithRetry runs the job, retrying with exponential backoff while it
// asks for a retry and attempts remain.
func (s *Scheduler) runWithRetry(ctx context.Context, e *entry) {
	b := backoff.NewExponentialBackOff()
	if s.config.BackoffInitial > 0 {
		b.InitialInterval = s.config.BackoffInitial
	}
	if s.config.BackoffMax > 0 {
		b.MaxInterval = s.config.BackoffMax
	}
	b.Reset()

	maxAttempts := s.config.maxAttempts()
	for attempt := 1; ; attempt++ {
		outcome := s.runOnce(ctx, e, attempt)
		if outcome != Retry {
			return
		}
		if attempt >= maxAttempts {
			s.logger.Warn("retries exhausted, waiting for next period", "work", e.work.Name, "attempts", attempt)
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		s.logger.Info("run asked for retry", "work", e.work.Name, "attempt", attempt, "backoff", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runOnce checks constraints, takes the lease, and runs the job once.
func (s *Scheduler) runOnce(ctx context.Context, e *entry, attempt int) Outcome {
	name := e.work.Name

	if e.work.RequiresNetwork && s.probe != nil && !s.probe(ctx) {
		s.logger.Info("network unavailable, deferring run", "work", name)
		return Retry
	}

	lease, err := s.locker.Acquire(ctx, name, s.config.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		s.logger.Info("work already running elsewhere, skipping", "work", name)
		return Success
	}
	if err != nil {
		s.logger.Warn("failed to acquire work lock", "work", name, "error", err)
		return Retry
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			s.logger.Warn("failed to release work lock", "work", name, "error", err)
		}
	}()

	s.update(e, func(info *WorkInfo) {
		info.State = StateRunning
		info.Attempt = attempt
		info.LastRun = time.Now()
	})

	outcome := s.safeRun(ctx, e)

	s.update(e, func(info *WorkInfo) {
		info.State = StateEnqueued
		info.LastOutcome = outcome.String()
		info.Runs++
	})
	return outcome
}

func (s *Scheduler) safeRun(ctx context.Context, e *entry) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("work panicked", "work", e.work.Name, "panic", r)
			outcome = Retry
		}
	}()
	return e.work.Job.Run(ctx)
}

// update applies fn to the entry's info unless it was cancelled.
func (s *Scheduler) update(e *entry, fn func(*WorkInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.info.State == StateCancelled {
		return
	}
	fn(&e.info)
}
