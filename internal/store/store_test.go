package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (Store, *sql.DB) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Store{DB: db}, db
}

func withTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func TestInsertAndGetAgent(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	withTx(t, db, func(tx *sql.Tx) {
		err := s.InsertAgent(ctx, tx, Agent{
			AgentID: "ag1", DisplayName: "Worker One", Capabilities: []string{"build"},
			RegisteredAt: "2026-08-02T00:00:00Z", LastSeenAt: "2026-08-02T00:00:00Z",
		})
		require.NoError(t, err)
	})

	a, err := s.GetAgent(ctx, "ag1")
	require.NoError(t, err)
	require.Equal(t, "Worker One", a.DisplayName)
	require.Equal(t, []string{"build"}, a.Capabilities)
}

func TestInsertAgentDuplicateRejected(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, s.InsertAgent(ctx, tx, Agent{AgentID: "ag1", RegisteredAt: "t", LastSeenAt: "t"}))
	})

	tx, err := db.Begin()
	require.NoError(t, err)
	err = s.InsertAgent(ctx, tx, Agent{AgentID: "ag1", RegisteredAt: "t", LastSeenAt: "t"})
	require.ErrorIs(t, err, ErrAlreadyExists)
	tx.Rollback()
}

func TestLeaseActiveAndExpiry(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, s.InsertLease(ctx, tx, Lease{
			LeaseID: "l1", TaskID: "t1", AgentID: "ag1",
			CreatedAt: "2026-08-02T00:00:00Z", ExpiresAt: "2026-08-02T01:00:00Z",
		}))
	})

	withTx(t, db, func(tx *sql.Tx) {
		lease, active, err := s.ActiveLease(ctx, tx, "t1", "2026-08-02T00:30:00Z")
		require.NoError(t, err)
		require.True(t, active)
		require.Equal(t, "l1", lease.LeaseID)
	})

	withTx(t, db, func(tx *sql.Tx) {
		_, active, err := s.ActiveLease(ctx, tx, "t1", "2026-08-02T02:00:00Z")
		require.NoError(t, err)
		require.False(t, active)
	})
}

func TestOrphanLeases(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, s.InsertLease(ctx, tx, Lease{
			LeaseID: "l1", TaskID: "t1", AgentID: "ghost",
			CreatedAt: "2026-08-02T00:00:00Z", ExpiresAt: "2026-08-02T05:00:00Z",
		}))
	})

	withTx(t, db, func(tx *sql.Tx) {
		orphans, err := s.OrphanLeases(ctx, tx, "2026-08-02T00:30:00Z")
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		require.Equal(t, "l1", orphans[0].LeaseID)
	})
}

func TestMessageRoundTripAndThread(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	var id int64
	withTx(t, db, func(tx *sql.Tx) {
		var err error
		id, err = s.InsertMessage(ctx, tx, Message{
			CreatedAt: "2026-08-02T00:00:00Z", FromAgentID: "ag1", ToType: "task", ToID: "t1",
			TaskID: "t1", Body: "status update",
		})
		require.NoError(t, err)
	})

	thread, err := s.Thread(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, thread, 1)
	require.Equal(t, "status update", thread[0].Body)

	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, s.AckMessage(ctx, tx, id, "2026-08-02T00:05:00Z"))
	})

	unread, err := s.ListMessages(ctx, MessageFilters{TaskID: "t1", Unread: true})
	require.NoError(t, err)
	require.Empty(t, unread)
}

func TestPullEventsCursor(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, s.AppendEvent(ctx, tx, Event{CreatedAt: "t0", Type: "agent.joined", ActorAgentID: "ag1"}))
		require.NoError(t, s.AppendEvent(ctx, tx, Event{CreatedAt: "t1", Type: "task.claimed", TaskID: "t1"}))
	})

	events, err := s.PullEvents(ctx, 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)

	filtered, err := s.PullEvents(ctx, events[0].ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "task.claimed", filtered[0].Type)

	byType, err := s.PullEvents(ctx, 0, 10, []string{"agent.joined"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
}
