// Package diff compares a fresh remote snapshot against the cached baseline
// and reports status transitions.
package diff

import "github.com/fentz26/recontrole/internal/models"

// Compute returns one transition for every live remote incident whose status
// differs from its cached status. Incidents missing from the cache are first
// sightings and produce nothing; incidents missing remotely produce nothing.
// Changes to fields other than status are ignored.
func Compute(remote, cached []models.Incident) []models.Transition {
	baseline := make(map[string]models.Status, len(cached))
	for _, inc := range cached {
		if inc.Deleted {
			continue
		}
		baseline[inc.ID] = inc.Status
	}

	var transitions []models.Transition
	seen := make(map[string]bool, len(remote))
	for _, inc := range remote {
		if inc.Deleted || inc.ID == "" || seen[inc.ID] {
			continue
		}
		seen[inc.ID] = true

		old, ok := baseline[inc.ID]
		if !ok || old == inc.Status {
			continue
		}
		transitions = append(transitions, models.Transition{
			IncidentID: inc.ID,
			Old:        old,
			New:        inc.Status,
			Category:   inc.Category,
			Location:   inc.Location,
		})
	}
	return transitions
}

// Live returns the incidents that are not soft-deleted, preserving order.
func Live(incidents []models.Incident) []models.Incident {
	live := make([]models.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if !inc.Deleted {
			live = append(live, inc)
		}
	}
	return live
}
