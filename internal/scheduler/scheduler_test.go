package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

func newTestScheduler(t *testing.T) (Scheduler, *sql.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	now, err := clock.ParseISO("2026-08-02T00:00:00Z")
	require.NoError(t, err)
	return Scheduler{Store: store.Store{DB: db}, Clock: clock.NewFrozen(now)}, db
}

func baseSpec() specstore.Spec {
	spec := specstore.Spec{Tasks: map[string]specstore.Task{}}
	specstore.UpsertTask(&spec, specstore.Task{ID: "a", Status: specstore.StatusReady, Priority: 100, CreatedAt: "2026-08-01T00:00:00Z"})
	specstore.UpsertTask(&spec, specstore.Task{ID: "b", Status: specstore.StatusReady, Priority: 50, CreatedAt: "2026-08-01T01:00:00Z"})
	specstore.UpsertTask(&spec, specstore.Task{ID: "c", Status: specstore.StatusReady, Priority: 100, DependsOn: []string{"a"}, CreatedAt: "2026-08-01T02:00:00Z"})
	return spec
}

func TestNextOrdersByPriorityThenCreatedAt(t *testing.T) {
	s, _ := newTestScheduler(t)
	spec := baseSpec()

	candidates, err := s.Next(context.Background(), spec, 10, "")
	require.NoError(t, err)
	require.Len(t, candidates, 2) // c excluded: dep "a" not verified
	require.Equal(t, "b", candidates[0].Task.ID)
	require.Equal(t, "a", candidates[1].Task.ID)
}

func TestNextExcludesActiveLeaseHolders(t *testing.T) {
	s, db := newTestScheduler(t)
	spec := baseSpec()
	ctx := context.Background()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, s.Store.InsertLease(ctx, tx, store.Lease{
		LeaseID: "l1", TaskID: "a", AgentID: "ag1",
		CreatedAt: "2026-08-02T00:00:00Z", ExpiresAt: "2026-08-02T01:00:00Z",
	}))
	require.NoError(t, tx.Commit())

	candidates, err := s.Next(ctx, spec, 10, "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "b", candidates[0].Task.ID)
}

func TestNextRespectsVerifiedDependency(t *testing.T) {
	s, _ := newTestScheduler(t)
	spec := specstore.Spec{Tasks: map[string]specstore.Task{}}
	specstore.UpsertTask(&spec, specstore.Task{ID: "a", Status: specstore.StatusVerified, CreatedAt: "t0"})
	specstore.UpsertTask(&spec, specstore.Task{ID: "b", Status: specstore.StatusReady, DependsOn: []string{"a"}, CreatedAt: "t1"})

	candidates, err := s.Next(context.Background(), spec, 10, "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "b", candidates[0].Task.ID)
}

func TestNextLimit(t *testing.T) {
	s, _ := newTestScheduler(t)
	spec := baseSpec()
	candidates, err := s.Next(context.Background(), spec, 1, "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}
