// Package audit records one row per monitor cycle so operators can see what
// each run fetched, compared, and delivered.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/fentz26/recontrole/internal/models"
)

// CycleStore persists cycle records.
type CycleStore interface {
	WriteCycle(ctx context.Context, c models.Cycle) error
}

// Recorder writes cycle records.
type Recorder struct {
	store CycleStore
}

// NewRecorder creates a new cycle recorder.
func NewRecorder(s CycleStore) *Recorder {
	return &Recorder{store: s}
}

// Record writes c, filling in the snapshot fingerprint from remote.
func (r *Recorder) Record(ctx context.Context, c models.Cycle, remote []models.Incident) error {
	if remote != nil {
		c.SnapshotHash = HashSnapshot(remote)
	}
	return r.store.WriteCycle(ctx, c)
}

// HashSnapshot fingerprints the id and status of every incident, ignoring
// order, so two cycles that saw the same statuses share a hash.
func HashSnapshot(incidents []models.Incident) string {
	type entry struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Deleted bool   `json:"deleted,omitempty"`
	}
	entries := make([]entry, 0, len(incidents))
	for _, inc := range incidents {
		entries = append(entries, entry{ID: inc.ID, Status: inc.Status.String(), Deleted: inc.Deleted})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return hashInputs(entries)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
