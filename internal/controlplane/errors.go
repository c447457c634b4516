package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrInvalidReport   = errors.New("invalid report")
	ErrNotFound        = errors.New("resource not found")
	ErrNotAuthor       = errors.New("report belongs to another user")
	ErrNoScheduler     = errors.New("monitor is not scheduled in this process")
	ErrNoRemote        = errors.New("remote is not configured")
)
