// Package notify delivers status-change notifications to the configured sinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fentz26/recontrole/internal/models"
	"golang.org/x/time/rate"
)

const defaultCategory = "Occurrence"

// Notification is the payload delivered for one status transition.
type Notification struct {
	IncidentID string
	Category   string
	Location   string
	Old        models.Status
	New        models.Status
	At         time.Time
}

// FromTransition builds a Notification for a detected transition.
func FromTransition(tr models.Transition, at time.Time) Notification {
	return Notification{
		IncidentID: tr.IncidentID,
		Category:   tr.Category,
		Location:   tr.Location,
		Old:        tr.Old,
		New:        tr.New,
		At:         at,
	}
}

// Title returns the notification headline.
func (n Notification) Title() string {
	return "Occurrence updated"
}

// Body returns the notification text.
func (n Notification) Body() string {
	category := n.Category
	if category == "" {
		category = defaultCategory
	}
	return fmt.Sprintf("%s (%s) is now: %s", category, n.Location, n.New.Label())
}

// Sink delivers a notification to one destination.
type Sink interface {
	// Name returns the sink identifier.
	Name() string

	// Send delivers the notification.
	Send(ctx context.Context, n Notification) error

	// Validate checks the sink has enough configuration to deliver.
	Validate() error
}

// Dispatcher is the boundary the monitor calls for every transition it
// decides to notify. Dispatch never fails: delivery problems are logged and
// swallowed here.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// PermissionChecker reports whether notifications may be delivered at all.
type PermissionChecker interface {
	Granted(ctx context.Context) bool
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(ctx context.Context) bool

// Granted calls f.
func (f PermissionFunc) Granted(ctx context.Context) bool { return f(ctx) }

// Service fans notifications out to every sink, rate limited.
type Service struct {
	sinks   []Sink
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimit limits deliveries to perMinute notifications with the given burst.
func WithRateLimit(perMinute, burst int) Option {
	return func(s *Service) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a dispatch service over sinks.
func NewService(sinks []Sink, opts ...Option) *Service {
	s := &Service{
		sinks:  sinks,
		logger: slog.Default().With("component", "notify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch delivers n to every sink. It never returns an error; a
// notification that reaches no sink is logged at warn level and not retried.
func (s *Service) Dispatch(ctx context.Context, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "notification dispatch panicked", "incident_id", n.IncidentID, "panic", r)
		}
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.WarnContext(ctx, "notification dropped by rate limiter", "incident_id", n.IncidentID, "error", err)
			return
		}
	}

	delivered := 0
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, n); err != nil {
			s.logger.WarnContext(ctx, "notification delivery failed",
				"sink", sink.Name(),
				"incident_id", n.IncidentID,
				"error", err,
			)
			continue
		}
		delivered++
		s.logger.DebugContext(ctx, "notification delivered", "sink", sink.Name(), "incident_id", n.IncidentID)
	}
	if delivered == 0 {
		s.logger.WarnContext(ctx, "notification not delivered by any sink",
			"incident_id", n.IncidentID,
			"sinks", len(s.sinks),
		)
	}
}

// Granted reports whether at least one sink is able to deliver.
func (s *Service) Granted(ctx context.Context) bool {
	for _, sink := range s.sinks {
		if err := sink.Validate(); err == nil {
			return true
		}
	}
	return false
}

// Gate combines a global on/off switch with a delivery capability check.
type Gate struct {
	Enabled bool
	Check   PermissionChecker
}

// Granted implements PermissionChecker.
func (g Gate) Granted(ctx context.Context) bool {
	if !g.Enabled {
		return false
	}
	if g.Check == nil {
		return true
	}
	return g.Check.Granted(ctx)
}
