package lock

import (
	"context"
	"errors"
	"time"

	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/store"
	"github.com/google/uuid"
)

// LockStore is the persistence the SQL locker needs.
type LockStore interface {
	AcquireLock(ctx context.Context, resourceID, holderID string, ttl time.Duration) (*models.Lock, error)
	ReleaseLock(ctx context.Context, lockID string) error
}

// SQL is a Locker backed by the locks table.
type SQL struct {
	store    LockStore
	holderID string
}

// NewSQL returns a locker using s. Each locker gets its own holder id.
func NewSQL(s LockStore) *SQL {
	return &SQL{store: s, holderID: uuid.NewString()}
}

// Acquire implements Locker.
func (l *SQL) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	held, err := l.store.AcquireLock(ctx, name, l.holderID, ttl)
	if errors.Is(err, store.ErrResourceLocked) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return &sqlLease{store: l.store, id: held.ID}, nil
}

type sqlLease struct {
	store LockStore
	id    string
}

func (l *sqlLease) Release(ctx context.Context) error {
	return l.store.ReleaseLock(ctx, l.id)
}
