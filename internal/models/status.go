package models

import "fmt"

// Status is the lifecycle state of an incident.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusFinished
)

// Wire tags used by the remote store. They must not be used outside the
// remote boundary; everything else works with Status values.
const (
	tagPending    = "red"
	tagInProgress = "yellow"
	tagFinished   = "green"
)

// DecodeStatusTag maps a remote status tag to a Status. Unknown or empty
// tags decode to StatusPending.
func DecodeStatusTag(tag string) Status {
	switch tag {
	case tagInProgress:
		return StatusInProgress
	case tagFinished:
		return StatusFinished
	default:
		return StatusPending
	}
}

// EncodeStatusTag maps a Status to its remote status tag.
func EncodeStatusTag(s Status) string {
	switch s {
	case StatusInProgress:
		return tagInProgress
	case StatusFinished:
		return tagFinished
	default:
		return tagPending
	}
}

// String returns the persisted name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Label returns the human readable label used in notifications.
func (s Status) Label() string {
	switch s {
	case StatusInProgress:
		return "In progress"
	case StatusFinished:
		return "Finished"
	default:
		return "Pending"
	}
}

// ParseStatus parses a persisted status name.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "PENDING":
		return StatusPending, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "FINISHED":
		return StatusFinished, nil
	default:
		return StatusPending, fmt.Errorf("unknown status %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
