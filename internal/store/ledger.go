package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fentz26/recontrole/internal/models"
)

// --- Notification Ledger Operations ---

// RecordNotification appends a ledger entry for a delivered notification.
// Entries are keyed by incident id and timestamp, so a prior entry for a
// different transition is never overwritten.
func (s *Store) RecordNotification(ctx context.Context, tr models.Transition, notifiedAt time.Time) (*models.NotificationEntry, error) {
	if tr.Old == tr.New {
		return nil, ErrNoTransition
	}

	entry := &models.NotificationEntry{
		ID:         fmt.Sprintf("%s_%d", tr.IncidentID, notifiedAt.UTC().UnixNano()),
		IncidentID: tr.IncidentID,
		OldStatus:  tr.Old,
		NewStatus:  tr.New,
		Category:   tr.Category,
		Location:   tr.Location,
		NotifiedAt: notifiedAt.UTC(),
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO notification_history (id, incident_id, old_status, new_status, category, location, notified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
	), entry.ID, entry.IncidentID, entry.OldStatus.String(), entry.NewStatus.String(),
		entry.Category, entry.Location, toNanos(entry.NotifiedAt))
	if err != nil {
		return nil, persistErr("record notification", err)
	}
	return entry, nil
}

// LastNotifiedStatus returns the new status of the most recent ledger entry
// for an incident. The boolean is false if the incident was never notified.
func (s *Store) LastNotifiedStatus(ctx context.Context, incidentID string) (models.Status, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT new_status FROM notification_history WHERE incident_id = ?
		 ORDER BY notified_at DESC, id DESC LIMIT 1`,
	), incidentID).Scan(&status)

	if err == sql.ErrNoRows {
		return models.StatusPending, false, nil
	}
	if err != nil {
		return models.StatusPending, false, persistErr("last notified status", err)
	}

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return models.StatusPending, false, persistErr("last notified status", err)
	}
	return parsed, true, nil
}

// PruneOlderThan deletes ledger entries notified before cutoff and returns
// the number of removed rows.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM notification_history WHERE notified_at < ?`), toNanos(cutoff))
	if err != nil {
		return 0, persistErr("prune ledger", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, persistErr("prune ledger", err)
	}
	return n, nil
}

// History returns every ledger entry for an incident, newest first.
func (s *Store) History(ctx context.Context, incidentID string) ([]models.NotificationEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, incident_id, old_status, new_status, category, location, notified_at
		 FROM notification_history WHERE incident_id = ? ORDER BY notified_at DESC, id DESC`,
	), incidentID)
	if err != nil {
		return nil, persistErr("query history", err)
	}
	defer rows.Close()

	var entries []models.NotificationEntry
	for rows.Next() {
		var e models.NotificationEntry
		var oldStatus, newStatus string
		var notifiedAt int64
		if err := rows.Scan(&e.ID, &e.IncidentID, &oldStatus, &newStatus, &e.Category, &e.Location, &notifiedAt); err != nil {
			return nil, persistErr("scan history", err)
		}
		if e.OldStatus, err = models.ParseStatus(oldStatus); err != nil {
			continue
		}
		if e.NewStatus, err = models.ParseStatus(newStatus); err != nil {
			continue
		}
		e.NotifiedAt = fromNanos(notifiedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query history", err)
	}
	return entries, nil
}

// CountWithStatus counts ledger entries for an incident that notified the
// given target status.
func (s *Store) CountWithStatus(ctx context.Context, incidentID string, status models.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM notification_history WHERE incident_id = ? AND new_status = ?`,
	), incidentID, status.String()).Scan(&n)
	if err != nil {
		return 0, persistErr("count notifications", err)
	}
	return n, nil
}
