package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/fentz26/recontrole/internal/models"
)

const incidentColumns = `id, status, category, location, author, description, photo, created_at`

// Tables holding incident snapshots. The list cache holds every user's
// reports; the monitor baseline holds only what the last cycle fetched.
const (
	cacheTable    = "incidents"
	baselineTable = "monitor_baseline"
)

// --- Incident Cache Operations ---

// ReadAll returns every cached incident. Rows with an unreadable status are
// skipped so one bad row cannot poison the whole snapshot.
func (s *Store) ReadAll(ctx context.Context) ([]models.Incident, error) {
	return s.readIncidents(ctx, cacheTable)
}

// ReplaceAll clears the cache and inserts records in one transaction.
// Deleted records are never written.
func (s *Store) ReplaceAll(ctx context.Context, records []models.Incident) error {
	return s.replaceIncidents(ctx, cacheTable, records)
}

// Baseline is the monitor's own snapshot of the signed-in user's reports.
// It lives beside the list cache so refreshing one never rewrites the other.
type Baseline struct {
	s *Store
}

// Baseline returns the monitor baseline backed by this store.
func (s *Store) Baseline() *Baseline {
	return &Baseline{s: s}
}

// ReadAll returns the incidents seen by the previous monitor cycle.
func (b *Baseline) ReadAll(ctx context.Context) ([]models.Incident, error) {
	return b.s.readIncidents(ctx, baselineTable)
}

// ReplaceAll stores the incidents fetched by the current monitor cycle.
func (b *Baseline) ReplaceAll(ctx context.Context, records []models.Incident) error {
	return b.s.replaceIncidents(ctx, baselineTable, records)
}

func (s *Store) readIncidents(ctx context.Context, table string) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+incidentColumns+` FROM `+table)
	if err != nil {
		return nil, persistErr("read "+table, err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, ok, err := scanIncident(rows)
		if err != nil {
			return nil, persistErr("scan "+table, err)
		}
		if ok {
			incidents = append(incidents, inc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("read "+table, err)
	}
	return incidents, nil
}

func (s *Store) replaceIncidents(ctx context.Context, table string, records []models.Incident) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return persistErr("clear "+table, err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO `+table+` (`+incidentColumns+`, cached_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
	))
	if err != nil {
		return persistErr("prepare insert", err)
	}
	defer stmt.Close()

	now := toNanos(time.Now())
	for _, inc := range records {
		if inc.Deleted || inc.ID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, incidentArgs(inc, now)...); err != nil {
			return persistErr("insert incident", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit replace", err)
	}
	return nil
}

// Upsert inserts or updates a single cached incident.
func (s *Store) Upsert(ctx context.Context, inc models.Incident) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO incidents (`+incidentColumns+`, cached_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			category = excluded.category,
			location = excluded.location,
			author = excluded.author,
			description = excluded.description,
			photo = excluded.photo,
			created_at = excluded.created_at,
			cached_at = excluded.cached_at`,
	), incidentArgs(inc, toNanos(time.Now()))...)
	return persistErr("upsert incident", err)
}

// FindByID returns the cached incident with the given id, if any.
func (s *Store) FindByID(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`), id)
	inc, ok, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("find incident", err)
	}
	if !ok {
		return nil, nil
	}
	return &inc, nil
}

// DeleteByID removes an incident from the cache.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM incidents WHERE id = ?`), id)
	return persistErr("delete incident", err)
}

// GroupByLocation returns cached incidents grouped by location, with groups
// and incidents sorted for stable output.
func (s *Store) GroupByLocation(ctx context.Context) ([]models.LocationGroup, error) {
	incidents, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByLocation(incidents), nil
}

// GroupByLocation groups incidents by location.
func GroupByLocation(incidents []models.Incident) []models.LocationGroup {
	byLocation := make(map[string][]models.Incident)
	for _, inc := range incidents {
		byLocation[inc.Location] = append(byLocation[inc.Location], inc)
	}

	groups := make([]models.LocationGroup, 0, len(byLocation))
	for loc, list := range byLocation {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].CreatedAt.After(list[j].CreatedAt)
			}
			return list[i].ID < list[j].ID
		})
		groups = append(groups, models.LocationGroup{Location: loc, Incidents: list})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Location < groups[j].Location })
	return groups
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (models.Incident, bool, error) {
	var inc models.Incident
	var status string
	var createdAt int64
	if err := row.Scan(&inc.ID, &status, &inc.Category, &inc.Location, &inc.Author, &inc.Description, &inc.Photo, &createdAt); err != nil {
		return inc, false, err
	}
	parsed, err := models.ParseStatus(status)
	if err != nil {
		return inc, false, nil
	}
	inc.Status = parsed
	inc.CreatedAt = fromNanos(createdAt)
	return inc, true, nil
}

func incidentArgs(inc models.Incident, cachedAt int64) []interface{} {
	return []interface{}{
		inc.ID, inc.Status.String(), inc.Category, inc.Location, inc.Author,
		inc.Description, inc.Photo, toNanos(inc.CreatedAt), cachedAt,
	}
}
