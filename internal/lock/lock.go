// Package lock provides named leases that keep a periodic job from running
// twice at once, in one process or across hosts.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another holder owns the lease.
var ErrLocked = errors.New("lock held by another holder")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out named leases that expire after ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token     string
	expiresAt time.Time
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[name]; ok && now.Before(e.expiresAt) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	l.held[name] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return &localLease{owner: l, name: name, token: token}, nil
}

type localLease struct {
	owner *Local
	name  string
	token string
}

func (l *localLease) Release(ctx context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if e, ok := l.owner.held[l.name]; ok && e.token == l.token {
		delete(l.owner.held, l.name)
	}
	return nil
}

// Chain acquires every locker in order and fails if any of them does. It
// lets an in-process lock sit in front of one shared with other processes.
type Chain []Locker

// Acquire implements Locker. Leases already taken are released when a later
// locker refuses.
func (c Chain) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	held := make(chainLease, 0, len(c))
	for _, l := range c {
		lease, err := l.Acquire(ctx, name, ttl)
		if err != nil {
			held.Release(context.WithoutCancel(ctx))
			return nil, err
		}
		held = append(held, lease)
	}
	return held, nil
}

type chainLease []Lease

// Release releases in reverse order and returns the first error.
func (c chainLease) Release(ctx context.Context) error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
