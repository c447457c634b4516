package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/recontrole/internal/models"
	"github.com/google/uuid"
)

// --- Lock Operations ---

// AcquireLock attempts to acquire a named lock atomically.
// It first cleans up an expired lock for the resource, then inserts a new one.
// If a live lock already exists, it returns ErrResourceLocked.
func (s *Store) AcquireLock(ctx context.Context, resourceID, holderID string, ttl time.Duration) (*models.Lock, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Step 1: Clean up expired locks for this resource within the transaction
	_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE resource_id = ? AND expires_at <= ?`), resourceID, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	// Step 2: Check for existing non-expired lock
	var existingHolder string
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT holder_id FROM locks WHERE resource_id = ? AND expires_at > ?`,
	), resourceID, toNanos(now)).Scan(&existingHolder)

	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}
	if err != sql.ErrNoRows {
		return nil, ErrResourceLocked
	}

	// Step 3: Insert new lock
	lock := &models.Lock{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		HolderID:   holderID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO locks (id, resource_id, holder_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
	), lock.ID, lock.ResourceID, lock.HolderID, toNanos(lock.CreatedAt), toNanos(lock.ExpiresAt))
	if err != nil {
		// A concurrent holder won the race on the UNIQUE constraint
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, ErrResourceLocked
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return lock, nil
}

// GetLock retrieves a live lock by resource id.
func (s *Store) GetLock(ctx context.Context, resourceID string) (*models.Lock, error) {
	lock := &models.Lock{}
	var createdAt, expiresAt int64

	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, resource_id, holder_id, created_at, expires_at FROM locks WHERE resource_id = ? AND expires_at > ?`,
	), resourceID, toNanos(time.Now())).Scan(&lock.ID, &lock.ResourceID, &lock.HolderID, &createdAt, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	lock.CreatedAt = fromNanos(createdAt)
	lock.ExpiresAt = fromNanos(expiresAt)
	return lock, nil
}

// ReleaseLock releases a lock by id.
func (s *Store) ReleaseLock(ctx context.Context, lockID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE id = ?`), lockID)
	return err
}
