// Package scheduler computes the claimable-task frontier: ready tasks whose
// dependencies are all verified and which hold no active lease, ordered
// deterministically for selection.
package scheduler

import (
	"context"
	"sort"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/dag"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// Candidate is one claimable task, annotated with why it was selected.
type Candidate struct {
	Task      specstore.Task
	Rationale string
}

// Scheduler composes the spec plane's readiness view with the runtime
// plane's active-lease view.
type Scheduler struct {
	Store store.Store
	Clock clock.Clock
}

// Next returns up to limit claimable tasks for spec, excluding tasks with an
// active lease, ordered by (priority asc, created_at asc, id asc). If
// agentID is non-empty, tasks that agent already holds an active lease on
// are also excluded (personalization).
func (s Scheduler) Next(ctx context.Context, spec specstore.Spec, limit int, agentID string) ([]Candidate, error) {
	now := clock.ISO(s.Clock.Now())
	activeTaskIDs, err := s.Store.ActiveLeaseTaskIDs(ctx, now)
	if err != nil {
		return nil, err
	}

	statusOf := make(map[string]string, len(spec.Tasks))
	for id, t := range spec.Tasks {
		statusOf[id] = string(t.Status)
	}

	ordered := spec.OrderedTasks()
	claimable := make([]specstore.Task, 0, len(ordered))
	for _, t := range ordered {
		node := dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn}
		if !dag.IsClaimable(node, string(specstore.StatusReady), string(specstore.StatusVerified), statusOf) {
			continue
		}
		if activeTaskIDs[t.ID] {
			continue
		}
		claimable = append(claimable, t)
	}

	sort.SliceStable(claimable, func(i, j int) bool {
		if claimable[i].Priority != claimable[j].Priority {
			return claimable[i].Priority < claimable[j].Priority
		}
		if claimable[i].CreatedAt != claimable[j].CreatedAt {
			return claimable[i].CreatedAt < claimable[j].CreatedAt
		}
		return claimable[i].ID < claimable[j].ID
	})

	if limit <= 0 || limit > len(claimable) {
		limit = len(claimable)
	}
	out := make([]Candidate, 0, limit)
	for _, t := range claimable[:limit] {
		out = append(out, Candidate{Task: t, Rationale: rationale(t)})
	}
	// agentID's personalization (excluding tasks it already holds) needs no
	// separate step: the unconditional active-lease exclusion above already
	// removes every task with a live lease, including ones held by agentID.
	_ = agentID
	return out, nil
}

func rationale(t specstore.Task) string {
	if len(t.DependsOn) == 0 {
		return "ready with no dependencies"
	}
	return "ready; all dependencies verified"
}
