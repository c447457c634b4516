// Package models defines the core domain types for recontrole.
package models

import "time"

// Incident represents one reported occurrence as seen by the remote store.
type Incident struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Category    string    `json:"category"`
	Location    string    `json:"location"`
	Author      string    `json:"author"`
	Description string    `json:"description,omitempty"`
	Photo       string    `json:"photo,omitempty"` // base64 encoded image
	Deleted     bool      `json:"deleted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transition is a status change observed for one incident between two
// consecutive monitor cycles. Old and New are never equal.
type Transition struct {
	IncidentID string `json:"incident_id"`
	Old        Status `json:"old_status"`
	New        Status `json:"new_status"`
	Category   string `json:"category"`
	Location   string `json:"location"`
}

// NotificationEntry is one row of the notification history ledger.
type NotificationEntry struct {
	ID         string    `json:"id"` // incident id + notification timestamp
	IncidentID string    `json:"incident_id"`
	OldStatus  Status    `json:"old_status"`
	NewStatus  Status    `json:"new_status"`
	Category   string    `json:"category,omitempty"`
	Location   string    `json:"location,omitempty"`
	NotifiedAt time.Time `json:"notified_at"`
}

// Lock represents a named lease held by one process.
type Lock struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"` // task name
	HolderID   string    `json:"holder_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Cycle is the audit record of one monitor execution.
type Cycle struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Fetched      int       `json:"fetched"`
	Transitions  int       `json:"transitions"`
	Notified     int       `json:"notified"`
	Suppressed   int       `json:"suppressed"`
	SnapshotHash string    `json:"snapshot_hash,omitempty"`
}

// LocationGroup holds the incidents reported for one location.
type LocationGroup struct {
	Location  string     `json:"location"`
	Incidents []Incident `json:"incidents"`
}
