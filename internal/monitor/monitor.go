// Package monitor implements the periodic job that compares the user's
// reports against the baseline saved by the previous cycle and notifies on
// status changes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fentz26/recontrole/internal/auth"
	"github.com/fentz26/recontrole/internal/diff"
	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/notify"
	"github.com/fentz26/recontrole/internal/remote"
	"github.com/fentz26/recontrole/internal/scheduler"
	"github.com/google/uuid"
)

// WorkName is the unique scheduler name of the monitor.
const WorkName = "occurrence_monitor_work"

const (
	// DefaultRetention is how long ledger entries are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultFetchTimeout bounds the remote fetch of one cycle.
	DefaultFetchTimeout = 2 * time.Minute
)

// Reasons recorded for a cycle's outcome.
const (
	ReasonCompleted    = "completed"
	ReasonNoUser       = "no_user"
	ReasonNoPermission = "no_permission"
	ReasonFetchFailed  = "fetch_failed"
	ReasonFetchTimeout = "fetch_timeout"
	ReasonCacheRead    = "cache_read_failed"
	ReasonCancelled    = "cancelled"
	ReasonPanic        = "panic"
)

// Cache holds the incidents seen by the previous cycle.
type Cache interface {
	ReadAll(ctx context.Context) ([]models.Incident, error)
	ReplaceAll(ctx context.Context, records []models.Incident) error
}

// Ledger is the notification history.
type Ledger interface {
	RecordNotification(ctx context.Context, tr models.Transition, notifiedAt time.Time) (*models.NotificationEntry, error)
	LastNotifiedStatus(ctx context.Context, incidentID string) (models.Status, bool, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder stores the audit row of a finished cycle.
type Recorder interface {
	Record(ctx context.Context, c models.Cycle, remote []models.Incident) error
}

// Report summarizes one cycle.
type Report struct {
	CycleID     string            `json:"cycle_id"`
	Outcome     scheduler.Outcome `json:"-"`
	Reason      string            `json:"reason"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	Fetched     int               `json:"fetched"`
	Transitions int               `json:"transitions"`
	Notified    int               `json:"notified"`
	Suppressed  int               `json:"suppressed"`
	Pruned      int64             `json:"pruned"`
}

// Cycle converts the report to its audit row.
func (r Report) Cycle() models.Cycle {
	return models.Cycle{
		ID:          r.CycleID,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Outcome:     r.Outcome.String(),
		Reason:      r.Reason,
		Fetched:     r.Fetched,
		Transitions: r.Transitions,
		Notified:    r.Notified,
		Suppressed:  r.Suppressed,
	}
}

// Task runs monitor cycles. It is safe to call Run from one goroutine at a
// time; the scheduler guarantees that.
type Task struct {
	source     remote.Source
	cache      Cache
	ledger     Ledger
	dispatcher notify.Dispatcher
	auth       auth.Provider
	permission notify.PermissionChecker

	recorder     Recorder
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
	retention    time.Duration
	fetchTimeout time.Duration
}

// Option configures a Task.
type Option func(*Task)

// WithRecorder records every cycle.
func WithRecorder(r Recorder) Option {
	return func(t *Task) { t.recorder = r }
}

// WithMetrics reports cycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Task) { t.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) { t.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Task) { t.now = now }
}

// WithRetention sets the ledger retention window.
func WithRetention(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithFetchTimeout bounds the remote fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.fetchTimeout = d
		}
	}
}

// New creates a monitor task over its collaborators.
func New(source remote.Source, cache Cache, ledger Ledger, dispatcher notify.Dispatcher,
	authProvider auth.Provider, permission notify.PermissionChecker, opts ...Option) *Task {
	t := &Task{
		source:       source,
		cache:        cache,
		ledger:       ledger,
		dispatcher:   dispatcher,
		auth:         authProvider,
		permission:   permission,
		logger:       slog.Default().With("component", "monitor"),
		now:          time.Now,
		retention:    DefaultRetention,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run implements scheduler.Job.
func (t *Task) Run(ctx context.Context) scheduler.Outcome {
	return t.RunCycle(ctx).Outcome
}

// RunCycle executes one cycle and returns its report. It never panics and
// never returns an error; every failure maps to an outcome.
func (t *Task) RunCycle(ctx context.Context) (rep Report) {
	rep = Report{
		CycleID:   uuid.NewString(),
		StartedAt: t.now(),
	}
	logger := t.logger.With("cycle_id", rep.CycleID)

	var snapshot []models.Incident
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "monitor cycle panicked", "panic", r)
			rep.Outcome = scheduler.Retry
			rep.Reason = ReasonPanic
		}
		rep.EndedAt = t.now()
		t.finish(ctx, logger, rep, snapshot)
	}()

	userID, ok := t.auth.CurrentUserID()
	if !ok {
		logger.DebugContext(ctx, "no signed-in user, skipping cycle")
		return t.done(rep, scheduler.Success, ReasonNoUser)
	}
	if !t.permission.Granted(ctx) {
		logger.DebugContext(ctx, "notification permission not granted, skipping cycle")
		return t.done(rep, scheduler.Success, ReasonNoPermission)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	fetched, err := t.source.FetchAuthored(fetchCtx, userID)
	cancel()
	if err != nil {
		reason := ReasonFetchFailed
		switch {
		case ctx.Err() != nil:
			reason = ReasonCancelled
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonFetchTimeout
		}
		logger.WarnContext(ctx, "failed to fetch remote reports", "reason", reason, "error", err)
		return t.done(rep, scheduler.Retry, reason)
	}
	snapshot = fetched
	rep.Fetched = len(fetched)

	cached, err := t.cache.ReadAll(ctx)
	if err != nil {
		logger.WarnContext(ctx, "failed to read cache", "error", err)
		return t.done(rep, scheduler.Retry, ReasonCacheRead)
	}

	transitions := diff.Compute(fetched, cached)
	rep.Transitions = len(transitions)

	for _, tr := range transitions {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "cycle cancelled during notify")
			return t.done(rep, scheduler.Retry, ReasonCancelled)
		}
		t.notifyTransition(ctx, logger, tr, &rep)
	}
	if ctx.Err() != nil {
		return t.done(rep, scheduler.Retry, ReasonCancelled)
	}

	if err := t.cache.ReplaceAll(ctx, fetched); err != nil {
		logger.WarnContext(ctx, "failed to persist cache", "error", err)
	}

	cutoff := t.now().Add(-t.retention)
	pruned, err := t.ledger.PruneOlderThan(ctx, cutoff)
	if err != nil {
		logger.WarnContext(ctx, "failed to prune ledger", "error", err)
	}
	rep.Pruned = pruned

	return t.done(rep, scheduler.Success, ReasonCompleted)
}

func (t *Task) done(rep Report, outcome scheduler.Outcome, reason string) Report {
	rep.Outcome = outcome
	rep.Reason = reason
	return rep
}

// notifyTransition dispatches tr unless the ledger shows its target was
// already notified. A ledger read failure counts as never notified. The
// ledger records the dispatch, not the delivery: a notification the
// dispatcher drops is logged there and not sent again.
func (t *Task) notifyTransition(ctx context.Context, logger *slog.Logger, tr models.Transition, rep *Report) {
	last, found, err := t.ledger.LastNotifiedStatus(ctx, tr.IncidentID)
	if err != nil {
		logger.WarnContext(ctx, "ledger lookup failed, notifying anyway", "incident_id", tr.IncidentID, "error", err)
		found = false
	}
	if found && last == tr.New {
		rep.Suppressed++
		logger.DebugContext(ctx, "transition already notified",
			"incident_id", tr.IncidentID,
			"status", tr.New.String(),
		)
		return
	}

	at := t.now()
	t.dispatcher.Dispatch(ctx, notify.FromTransition(tr, at))
	rep.Notified++
	logger.InfoContext(ctx, "status change dispatched",
		"incident_id", tr.IncidentID,
		"old_status", tr.Old.String(),
		"new_status", tr.New.String(),
	)

	if _, err := t.ledger.RecordNotification(ctx, tr, at); err != nil {
		logger.WarnContext(ctx, "failed to record notification", "incident_id", tr.IncidentID, "error", err)
	}
}

// finish records the cycle and its metrics. It runs even when ctx is done.
func (t *Task) finish(ctx context.Context, logger *slog.Logger, rep Report, snapshot []models.Incident) {
	bg := context.WithoutCancel(ctx)

	if t.recorder != nil {
		if err := t.safeRecord(bg, rep, snapshot); err != nil {
			logger.WarnContext(bg, "failed to record cycle", "error", err)
		}
	}
	t.metrics.observe(bg, rep)

	logger.InfoContext(bg, "monitor cycle finished",
		"outcome", rep.Outcome.String(),
		"reason", rep.Reason,
		"fetched", rep.Fetched,
		"transitions", rep.Transitions,
		"notified", rep.Notified,
		"suppressed", rep.Suppressed,
		"duration", rep.EndedAt.Sub(rep.StartedAt),
	)
}

func (t *Task) safeRecord(ctx context.Context, rep Report, snapshot []models.Incident) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recorder panicked: %v", r)
		}
	}()
	return t.recorder.Record(ctx, rep.Cycle(), snapshot)
}
