package gorm

import (
	"context"
	"database/sql"
	"fmt"
)

// batchLockKey is the advisory lock key guarding batch clustering runs.
// Two concurrent runs against the same store could each decide "no match"
// for similar conversations and create near-duplicate groups; the lock
// makes batch runs single-flight across processes.
const batchLockKey int64 = 0x6661_7468_6f6d_6267 // "fathombg"

// BatchLock serializes batch clustering runs via a Postgres advisory lock.
type BatchLock struct {
	sqlDB *sql.DB
}

// NewBatchLock creates a batch lock on the store's connection pool.
func NewBatchLock(store *Store) *BatchLock {
	return &BatchLock{sqlDB: store.GetRawDB()}
}

// Acquire attempts to take the batch advisory lock without blocking.
// When acquired is true the caller must invoke release when done. The
// lock is session-scoped, so it is held on a dedicated connection that
// release returns to the pool.
func (l *BatchLock) Acquire(ctx context.Context) (release func(), acquired bool, err error) {
	conn, err := l.sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get lock connection: %w", err)
	}

	var got bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, batchLockKey).Scan(&got); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("acquire batch lock: %w", err)
	}

	if !got {
		conn.Close()
		return nil, false, nil
	}

	release = func() {
		// Unlock on the same session, then free the connection. Closing
		// the connection would also release the lock if the unlock fails.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, batchLockKey)
		conn.Close()
	}
	return release, true, nil
}
