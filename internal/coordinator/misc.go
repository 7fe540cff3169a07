package coordinator

import (
	"context"
	"os"

	"github.com/lodestar-dev/lodestar/internal/anchor"
	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// defaultSpecYAML seeds a freshly initialized repository with an empty,
// well-formed spec document rather than leaving the file absent.
const defaultSpecYAML = `project:
  name: unnamed-project
  default_branch: main
tasks: {}
`

// Init creates a .lodestar anchor under dir, a default config.yml, an empty
// spec.yaml, and the runtime database (migrated to the latest schema). It
// is idempotent: re-running Init against an already-initialized directory
// leaves existing files untouched.
func Init(dir string) Env {
	a, err := anchor.Init(dir)
	if err != nil {
		return fail(err)
	}

	if _, err := os.Stat(a.SpecPath()); os.IsNotExist(err) {
		if err := os.WriteFile(a.SpecPath(), []byte(defaultSpecYAML), 0o644); err != nil {
			return fail(err)
		}
	}
	if _, err := os.Stat(a.ConfigPath()); os.IsNotExist(err) {
		if err := os.WriteFile(a.ConfigPath(), []byte(config.GenerateDefault()), 0o644); err != nil {
			return fail(err)
		}
	}

	db, err := store.Open(a.RuntimeDBPath())
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	return ok(Map{"root": a.Root, "spec_path": a.SpecPath(), "runtime_db_path": a.RuntimeDBPath()})
}

// Status summarizes the repository: task counts by status, registered
// agent count, and active lease count. Grounded in the committed spec plus
// a lightweight runtime query, it never mutates either plane.
func (c *Coordinator) Status(ctx context.Context) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	byStatus := map[string]int{}
	for _, t := range spec.Tasks {
		byStatus[string(t.Status)]++
	}

	agents, err := c.Store.ListAgents(ctx)
	if err != nil {
		return fail(err)
	}
	now := clock.ISO(c.Clock.Now())
	activeLeaseIDs, err := c.Store.ActiveLeaseTaskIDs(ctx, now)
	if err != nil {
		return fail(err)
	}

	return ok(Map{
		"project":            spec.Project,
		"task_counts":        byStatus,
		"task_total":         len(spec.Tasks),
		"agent_count":        len(agents),
		"active_lease_count": len(activeLeaseIDs),
	})
}

// Snapshot exports the full committed spec alongside the latest event
// cursor, giving a caller enough state to bootstrap a fresh event-log
// subscription without replaying history from zero.
func (c *Coordinator) Snapshot(ctx context.Context) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	latest, err := c.Store.LatestEventID(ctx)
	if err != nil {
		return fail(err)
	}
	items := make([]Map, 0, len(spec.Tasks))
	for _, t := range spec.OrderedTasks() {
		items = append(items, taskToMap(t))
	}
	return ok(Map{
		"project":     spec.Project,
		"tasks":       items,
		"next_cursor": latest,
	})
}

// HealthCheck verifies both planes are reachable: the spec file parses and
// the runtime database answers a trivial query.
func (c *Coordinator) HealthCheck(ctx context.Context) Env {
	if _, err := c.SpecStore.Load(); err != nil && err != specstore.ErrSpecMissing {
		return fail(err)
	}
	if err := c.DB.PingContext(ctx); err != nil {
		return fail(err)
	}
	return ok(Map{"spec_path": c.SpecStore.Path, "healthy": true})
}
