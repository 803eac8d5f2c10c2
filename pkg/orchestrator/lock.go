package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// advisoryLockKey derives a deterministic 64-bit Postgres advisory lock key
// from a namespace and identifier, following the fixed-constant approach
// pkg/database's migrator uses for its own migration lock, generalized to a
// per-team key instead of one global constant.
func advisoryLockKey(namespace, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace + "|" + id))
	return int64(h.Sum64())
}

// teamLock holds a session-scoped Postgres advisory lock for the duration
// of one provisioning or deprovisioning run, serializing concurrent
// requests for the same (org, team) without blocking unrelated teams.
type teamLock struct {
	conn *sql.Conn
	key  int64
}

// acquireTeamLock blocks until it holds the advisory lock for (org, team),
// or ctx is cancelled. The lock is tied to conn and released by
// teamLock.Release, which must run on the same connection.
func acquireTeamLock(ctx context.Context, db *sql.DB, org, team string) (*teamLock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire db connection for team lock: %w", err)
	}

	key := advisoryLockKey("provision", org+"/"+team)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire advisory lock for %s/%s: %w", org, team, err)
	}

	return &teamLock{conn: conn, key: key}, nil
}

// Release unlocks the advisory lock and returns the connection to the pool.
// Best-effort: the lock is also released if the connection is dropped.
func (l *teamLock) Release(ctx context.Context) {
	_, _ = l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key)
	_ = l.conn.Close()
}
