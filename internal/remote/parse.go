package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/recontrole/internal/models"
)

// wireRecord is one child of the reports collection.
type wireRecord struct {
	Content     *wireContent `json:"content"`
	SelectedObj *struct {
		LabID string `json:"sel_lab_id"`
	} `json:"selected_obj"`
}

type wireContent struct {
	Author    string   `json:"autor"`
	Text      string   `json:"text"`
	Status    string   `json:"status"`
	ImgURL    string   `json:"img_url"`
	Local     string   `json:"local"`
	Category  string   `json:"category"`
	Timestamp float64  `json:"timestamp"`
	Deleted   bool     `json:"deleted"`
	DeletedAt *float64 `json:"deletedAt,omitempty"`
	DeletedBy string   `json:"deletedBy,omitempty"`
}

// RecordError describes a single record that could not be decoded.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ParseSnapshot decodes the reports collection. Malformed records are
// skipped and reported individually; only an undecodable collection fails.
func ParseSnapshot(data []byte) ([]models.Incident, []error, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil, nil
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(data, &children); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}

	ids := make([]string, 0, len(children))
	for id := range children {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		incidents []models.Incident
		skipped   []error
	)
	for _, id := range ids {
		inc, err := ParseRecord(id, children[id])
		if err != nil {
			skipped = append(skipped, &RecordError{ID: id, Err: err})
			continue
		}
		incidents = append(incidents, inc)
	}
	return incidents, skipped, nil
}

// ParseRecord decodes one report. The location falls back to
// selected_obj/sel_lab_id when the content has none.
func ParseRecord(id string, raw json.RawMessage) (models.Incident, error) {
	if id == "" {
		return models.Incident{}, fmt.Errorf("missing id")
	}

	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Incident{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.Content == nil {
		return models.Incident{}, fmt.Errorf("missing content")
	}

	c := rec.Content
	location := c.Local
	if location == "" && rec.SelectedObj != nil {
		location = rec.SelectedObj.LabID
	}

	inc := models.Incident{
		ID:          id,
		Status:      models.DecodeStatusTag(c.Status),
		Category:    c.Category,
		Location:    location,
		Author:      c.Author,
		Description: c.Text,
		Photo:       c.ImgURL,
		Deleted:     c.Deleted,
	}
	if c.Timestamp > 0 {
		inc.CreatedAt = time.UnixMilli(int64(c.Timestamp)).UTC()
	}
	return inc, nil
}

// encodeContent builds the wire content for a new report.
func encodeContent(author string, r NewReport, now time.Time) wireContent {
	return wireContent{
		Author:    author,
		Text:      r.Description,
		Status:    models.EncodeStatusTag(models.StatusPending),
		ImgURL:    r.Photo,
		Local:     r.Location,
		Category:  r.Category,
		Timestamp: float64(now.UnixMilli()),
	}
}
