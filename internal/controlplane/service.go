// Package controlplane provides the HTTP API and service layer for recontrole.
package controlplane

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/recontrole/internal/auth"
	"github.com/fentz26/recontrole/internal/diff"
	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/remote"
	"github.com/fentz26/recontrole/internal/scheduler"
	"github.com/fentz26/recontrole/internal/store"
)

// ReportStore is the remote side of report listing, creation, and deletion.
type ReportStore interface {
	FetchAll(ctx context.Context) ([]models.Incident, error)
	Create(ctx context.Context, author string, r remote.NewReport) (*models.Incident, error)
	SoftDelete(ctx context.Context, id, userID string) error
}

// WorkController is the part of the scheduler the API exposes.
type WorkController interface {
	Status(name string) (scheduler.WorkInfo, bool)
	RunNow(name string) bool
}

// MonitorStatus describes the scheduled monitor and its recent cycles.
type MonitorStatus struct {
	Name      string              `json:"name"`
	Scheduled bool                `json:"scheduled"`
	Work      *scheduler.WorkInfo `json:"work,omitempty"`
	Cycles    []models.Cycle      `json:"cycles"`
}

// Service provides the control plane business logic.
type Service struct {
	store    *store.Store
	reports  ReportStore
	auth     auth.Provider
	work     WorkController
	workName string
	logger   *slog.Logger
}

// NewService creates a new control plane service. reports may be nil when
// no remote is configured; only cached reads work then.
func NewService(s *store.Store, reports ReportStore, authProvider auth.Provider) *Service {
	return &Service{
		store:   s,
		reports: reports,
		auth:    authProvider,
		logger:  slog.Default().With("component", "controlplane"),
	}
}

// AttachScheduler exposes the named work through the service.
func (s *Service) AttachScheduler(work WorkController, name string) {
	s.work = work
	s.workName = name
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Report Operations ---

// Reports returns reports grouped by location. Without refresh a non-empty
// cache is served as is; otherwise the remote is read and the cache
// rewritten. The monitor keeps its own baseline, so a refresh here never
// hides a status change from it.
func (s *Service) Reports(ctx context.Context, refresh bool) ([]models.LocationGroup, error) {
	if !refresh {
		cached, err := s.store.ReadAll(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to read cache, fetching remote", "error", err)
		} else if len(cached) > 0 {
			return store.GroupByLocation(listable(cached)), nil
		}
	}

	if s.reports == nil {
		return nil, ErrNoRemote
	}
	if _, ok := s.auth.CurrentUserID(); !ok {
		return nil, ErrUnauthenticated
	}

	fetched, err := s.reports.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch reports: %w", err)
	}
	live := listable(fetched)

	if len(live) > 0 {
		if err := s.store.ReplaceAll(ctx, live); err != nil {
			s.logger.WarnContext(ctx, "failed to update cache", "error", err)
		}
	}
	return store.GroupByLocation(live), nil
}

// listable drops deleted records and records without id or description.
func listable(incidents []models.Incident) []models.Incident {
	out := make([]models.Incident, 0, len(incidents))
	for _, inc := range diff.Live(incidents) {
		if inc.ID == "" || inc.Description == "" {
			continue
		}
		out = append(out, inc)
	}
	return out
}

// CreateReport stores a new report for the signed-in user.
func (s *Service) CreateReport(ctx context.Context, r remote.NewReport) (*models.Incident, error) {
	userID, ok := s.auth.CurrentUserID()
	if !ok {
		return nil, ErrUnauthenticated
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if r.Photo != "" {
		if _, err := base64.StdEncoding.DecodeString(r.Photo); err != nil {
			return nil, fmt.Errorf("%w: photo is not valid base64", ErrInvalidReport)
		}
	}

	if s.reports == nil {
		return nil, ErrNoRemote
	}
	inc, err := s.reports.Create(ctx, userID, r)
	if err != nil {
		return nil, err
	}

	// The remote write succeeded; a cache failure is not fatal.
	if err := s.store.Upsert(ctx, *inc); err != nil {
		s.logger.WarnContext(ctx, "failed to cache new report", "id", inc.ID, "error", err)
	}
	return inc, nil
}

// DeleteReport soft-deletes one of the signed-in user's reports.
func (s *Service) DeleteReport(ctx context.Context, id string) error {
	userID, ok := s.auth.CurrentUserID()
	if !ok {
		return ErrUnauthenticated
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidReport)
	}

	if s.reports == nil {
		return ErrNoRemote
	}
	err := s.reports.SoftDelete(ctx, id, userID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, remote.ErrNotAuthor):
		return ErrNotAuthor
	case err != nil:
		return err
	}

	if err := s.store.DeleteByID(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "failed to drop report from cache", "id", id, "error", err)
	}
	return nil
}

// --- Monitor Operations ---

// MonitorStatus returns the scheduled work and the last limit cycles.
func (s *Service) MonitorStatus(ctx context.Context, limit int) (*MonitorStatus, error) {
	cycles, err := s.store.ListCycles(ctx, limit)
	if err != nil {
		return nil, err
	}
	if cycles == nil {
		cycles = []models.Cycle{}
	}

	status := &MonitorStatus{Name: s.workName, Cycles: cycles}
	if s.work != nil {
		if info, ok := s.work.Status(s.workName); ok {
			status.Scheduled = true
			status.Work = &info
		}
	}
	return status, nil
}

// TriggerMonitor asks the scheduler for an immediate cycle.
func (s *Service) TriggerMonitor() error {
	if s.work == nil || !s.work.RunNow(s.workName) {
		return ErrNoScheduler
	}
	return nil
}

// --- Ledger Operations ---

// LedgerHistory returns the notifications sent for an incident, newest first.
func (s *Service) LedgerHistory(ctx context.Context, incidentID string) ([]models.NotificationEntry, error) {
	return s.store.History(ctx, incidentID)
}

// PruneLedger deletes ledger entries older than retention.
func (s *Service) PruneLedger(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	return s.store.PruneOlderThan(ctx, time.Now().Add(-retention))
}
