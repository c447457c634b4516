package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	ErrResourceLocked = errors.New("resource already locked")
	ErrNoTransition   = errors.New("old and new status are equal")
)

// PersistenceError reports that the backing storage could not complete an
// operation on the cache or the ledger.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
