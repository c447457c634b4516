package store

import (
	"context"
	"fmt"

	"github.com/fentz26/recontrole/internal/models"
)

// --- Monitor Cycle Operations ---

// WriteCycle stores the audit record of one monitor cycle.
func (s *Store) WriteCycle(ctx context.Context, c models.Cycle) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO monitor_cycles (id, started_at, ended_at, outcome, reason, fetched, transitions, notified, suppressed, snapshot_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	), c.ID, toNanos(c.StartedAt), toNanos(c.EndedAt), c.Outcome, c.Reason, c.Fetched, c.Transitions, c.Notified, c.Suppressed, c.SnapshotHash)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// ListCycles returns the most recent cycles, newest first.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]models.Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, started_at, ended_at, outcome, reason, fetched, transitions, notified, suppressed, snapshot_hash
		 FROM monitor_cycles ORDER BY started_at DESC LIMIT ?`,
	), limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []models.Cycle
	for rows.Next() {
		var c models.Cycle
		var startedAt, endedAt int64
		if err := rows.Scan(&c.ID, &startedAt, &endedAt, &c.Outcome, &c.Reason, &c.Fetched, &c.Transitions, &c.Notified, &c.Suppressed, &c.SnapshotHash); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.StartedAt = fromNanos(startedAt)
		c.EndedAt = fromNanos(endedAt)
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
