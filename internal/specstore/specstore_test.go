package specstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lodestar-dev/lodestar/internal/clock"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.yaml")
	lockPath := filepath.Join(dir, ".lock")
	now, err := clock.ParseISO("2026-08-02T00:00:00Z")
	require.NoError(t, err)
	c := clock.NewFrozen(now)
	return New(specPath, lockPath, c), specPath
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.ErrorIs(t, err, ErrSpecMissing)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, func(spec *Spec) error {
		spec.Project = Project{Name: "demo", DefaultBranch: "main"}
		UpsertTask(spec, Task{ID: "t1", Title: "first", Status: StatusReady, Priority: 1, CreatedAt: "2026-08-02T00:00:00Z", UpdatedAt: "2026-08-02T00:00:00Z"})
		return nil
	})
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "demo", loaded.Project.Name)
	require.Len(t, loaded.Tasks, 1)
	require.Equal(t, StatusReady, loaded.Tasks["t1"].Status)
	require.Equal(t, []string{"t1"}, loaded.TaskOrder)
}

func TestSaveRejectsCycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, func(spec *Spec) error {
		UpsertTask(spec, Task{ID: "a", Status: StatusReady, DependsOn: []string{"b"}})
		UpsertTask(spec, Task{ID: "b", Status: StatusReady, DependsOn: []string{"a"}})
		return nil
	})
	var invErr InvariantError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, InvariantCycle, invErr.Kind)
}

func TestSaveRejectsMissingDep(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, func(spec *Spec) error {
		UpsertTask(spec, Task{ID: "a", Status: StatusReady, DependsOn: []string{"ghost"}})
		return nil
	})
	var invErr InvariantError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, InvariantMissingDep, invErr.Kind)
}

func TestSoftDeleteRejectsLiveDependentsWithoutCascade(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, func(spec *Spec) error {
		UpsertTask(spec, Task{ID: "a", Status: StatusReady})
		UpsertTask(spec, Task{ID: "b", Status: StatusReady, DependsOn: []string{"a"}})
		return nil
	})
	require.NoError(t, err)

	_, err = s.Save(ctx, func(spec *Spec) error {
		_, derr := SoftDeleteTask(spec, "a", false, "2026-08-02T01:00:00Z")
		return derr
	})
	var invErr InvariantError
	require.ErrorAs(t, err, &invErr)
}

func TestSoftDeleteCascades(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, func(spec *Spec) error {
		UpsertTask(spec, Task{ID: "a", Status: StatusReady})
		UpsertTask(spec, Task{ID: "b", Status: StatusReady, DependsOn: []string{"a"}})
		return nil
	})
	require.NoError(t, err)

	var deleted []string
	final, err := s.Save(ctx, func(spec *Spec) error {
		var derr error
		deleted, derr = SoftDeleteTask(spec, "a", true, "2026-08-02T01:00:00Z")
		return derr
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, deleted)
	require.Equal(t, StatusDeleted, final.Tasks["a"].Status)
	require.Equal(t, StatusDeleted, final.Tasks["b"].Status)
}

func TestGetTaskNotFound(t *testing.T) {
	_, err := GetTask(Spec{Tasks: map[string]Task{}}, "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}
