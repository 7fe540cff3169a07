package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/dag"
	"github.com/lodestar-dev/lodestar/internal/lease"
	"github.com/lodestar-dev/lodestar/internal/prd"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

func taskToMap(t specstore.Task) Map {
	m := Map{
		"id":                  t.ID,
		"title":               t.Title,
		"description":         t.Description,
		"acceptance_criteria": t.AcceptanceCriteria,
		"status":              string(t.Status),
		"priority":            t.Priority,
		"labels":              t.Labels,
		"depends_on":          t.DependsOn,
		"locks":               t.Locks,
		"created_at":          t.CreatedAt,
		"updated_at":          t.UpdatedAt,
	}
	if !t.PRD.IsZero() {
		m["prd"] = Map{"source": t.PRD.Source, "hash": t.PRD.Hash}
	}
	return m
}

// ListTasks returns every non-deleted task unless includeDeleted is set.
func (c *Coordinator) ListTasks(ctx context.Context, includeDeleted bool) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	items := make([]Map, 0, len(spec.Tasks))
	for _, t := range spec.OrderedTasks() {
		if !includeDeleted && t.Status == specstore.StatusDeleted {
			continue
		}
		items = append(items, taskToMap(t))
	}
	return ok(Map{"tasks": items})
}

// GetTask returns a single task.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	t, err := specstore.GetTask(spec, taskID)
	if err != nil {
		return fail(err)
	}
	return ok(taskToMap(t))
}

// Next returns the claimable-task frontier.
func (c *Coordinator) Next(ctx context.Context, limit int, agentID string) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	candidates, err := c.Scheduler.Next(ctx, spec, limit, agentID)
	if err != nil {
		return fail(err)
	}
	items := make([]Map, 0, len(candidates))
	for _, cand := range candidates {
		m := taskToMap(cand.Task)
		m["rationale"] = cand.Rationale
		items = append(items, m)
	}
	return ok(Map{"tasks": items})
}

// CreateTaskInput is the input for Create.
type CreateTaskInput struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	Priority           int
	Labels             []string
	DependsOn          []string
	Locks              []string
	PRDSource          string
	PRDRefs            []specstore.PRDRef
}

// CreateTask inserts a new ready task into the spec.
func (c *Coordinator) CreateTask(ctx context.Context, in CreateTaskInput) Env {
	if in.ID == "" || len(in.ID) > 64 {
		return fail(invalidInput{Field: "id", Reason: "must be 1-64 characters"})
	}
	if in.Title == "" || len(in.Title) > 200 {
		return fail(invalidInput{Field: "title", Reason: "must be non-empty and at most 200 characters"})
	}
	priority := in.Priority
	if priority == 0 {
		priority = 100
	}

	var binding specstore.PRDBinding
	if in.PRDSource != "" {
		source, err := os.ReadFile(in.PRDSource)
		if err != nil {
			return fail(prd.ErrSourceMissing)
		}
		sections := prd.ExtractSections(source, toPRDRefs(in.PRDRefs))
		var body string
		for i, s := range sections {
			if i > 0 {
				body += "\n\n"
			}
			body += s.Text
		}
		binding = specstore.PRDBinding{
			Source:  in.PRDSource,
			Refs:    in.PRDRefs,
			Excerpt: body,
			Hash:    prd.Hash(source),
		}
	}

	now := clock.ISO(c.Clock.Now())
	var created specstore.Task
	_, err := c.SpecStore.Save(ctx, func(spec *specstore.Spec) error {
		if _, exists := spec.Tasks[in.ID]; exists {
			return invalidInput{Field: "id", Reason: "task already exists"}
		}
		created = specstore.Task{
			ID: in.ID, Title: in.Title, Description: in.Description, AcceptanceCriteria: in.AcceptanceCriteria,
			Status: specstore.StatusReady, Priority: priority, Labels: in.Labels, DependsOn: in.DependsOn, Locks: in.Locks,
			CreatedAt: now, UpdatedAt: now, PRD: binding,
		}
		specstore.UpsertTask(spec, created)
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return ok(taskToMap(created))
}

// UpdateTaskInput carries only the fields the caller wants to change; nil
// pointers leave the corresponding field untouched.
type UpdateTaskInput struct {
	TaskID             string
	Title              *string
	Description        *string
	AcceptanceCriteria *string
	Priority           *int
	Labels             *[]string
	DependsOn          *[]string
	Locks              *[]string
}

// UpdateTask applies a partial update to an existing task.
func (c *Coordinator) UpdateTask(ctx context.Context, in UpdateTaskInput) Env {
	now := clock.ISO(c.Clock.Now())
	var updated specstore.Task
	_, err := c.SpecStore.Save(ctx, func(spec *specstore.Spec) error {
		t, ok := spec.Tasks[in.TaskID]
		if !ok {
			return specstore.ErrTaskNotFound
		}
		if in.Title != nil {
			t.Title = *in.Title
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.AcceptanceCriteria != nil {
			t.AcceptanceCriteria = *in.AcceptanceCriteria
		}
		if in.Priority != nil {
			t.Priority = *in.Priority
		}
		if in.Labels != nil {
			t.Labels = *in.Labels
		}
		if in.DependsOn != nil {
			t.DependsOn = *in.DependsOn
		}
		if in.Locks != nil {
			t.Locks = *in.Locks
		}
		t.UpdatedAt = now
		updated = t
		specstore.UpsertTask(spec, t)
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return ok(taskToMap(updated))
}

// DeleteTask soft-deletes a task, cascading to dependents if requested.
// Without cascade, a task with live dependents is rejected.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID string, cascade bool) Env {
	now := clock.ISO(c.Clock.Now())
	var deletedIDs []string
	_, err := c.SpecStore.Save(ctx, func(spec *specstore.Spec) error {
		ids, err := specstore.SoftDeleteTask(spec, taskID, cascade, now)
		if err != nil {
			return err
		}
		deletedIDs = ids
		return nil
	})
	if err != nil {
		return fail(err)
	}
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range deletedIDs {
			if eerr := c.appendEvent(ctx, tx, EventTaskDeleted, "", id, "", Map{"cascade": cascade}); eerr != nil {
				return eerr
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"deleted_task_ids": deletedIDs})
}

// Claim attempts to obtain a lease for taskID on behalf of agentID. The spec
// is consulted for claimability first (no write); the lease is then created
// transactionally in the runtime store. Locks overlapping the locks of
// another task that holds an active lease produce advisory warnings, never a
// hard failure.
func (c *Coordinator) Claim(ctx context.Context, taskID, agentID string, ttl time.Duration, force bool) Env {
	if ttl <= 0 {
		ttl = c.defaultTTL()
	}
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	if _, err := c.Store.GetAgent(ctx, agentID); err != nil {
		return fail(err)
	}
	t, err := specstore.GetTask(spec, taskID)
	if err != nil {
		return fail(err)
	}
	if !isClaimable(spec, t) {
		return fail(notClaimable{TaskID: taskID})
	}
	activeTaskIDs, err := c.Store.ActiveLeaseTaskIDs(ctx, clock.ISO(c.Clock.Now()))
	if err != nil {
		return fail(err)
	}

	var newLease store.Lease
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		var lerr error
		if force {
			newLease, lerr = c.Lease.ForceClaim(ctx, tx, taskID, agentID, ttl)
		} else {
			newLease, lerr = c.Lease.Claim(ctx, tx, taskID, agentID, ttl)
		}
		if lerr != nil {
			return lerr
		}
		return c.appendEvent(ctx, tx, EventTaskClaimed, agentID, taskID, "", Map{"lease_id": newLease.LeaseID, "expires_at": newLease.ExpiresAt})
	})
	if err != nil {
		return fail(err)
	}

	warnings := lockOverlapWarnings(spec, t, activeTaskIDs)
	return okWarn(Map{
		"task_id": taskID, "lease_id": newLease.LeaseID, "agent_id": agentID, "expires_at": newLease.ExpiresAt,
	}, warnings)
}

// Renew extends the calling agent's active lease.
func (c *Coordinator) Renew(ctx context.Context, taskID, agentID string, ttl time.Duration) Env {
	if ttl <= 0 {
		ttl = c.defaultTTL()
	}
	var renewed store.Lease
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		var lerr error
		renewed, lerr = c.Lease.Renew(ctx, tx, taskID, agentID, ttl)
		return lerr
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"task_id": taskID, "lease_id": renewed.LeaseID, "expires_at": renewed.ExpiresAt})
}

// Release ends the calling agent's active lease.
func (c *Coordinator) Release(ctx context.Context, taskID, agentID, reason string) Env {
	var released store.Lease
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		var lerr error
		released, lerr = c.Lease.Release(ctx, tx, taskID, agentID)
		if lerr != nil {
			return lerr
		}
		return c.appendEvent(ctx, tx, EventTaskReleased, agentID, taskID, "", Map{"reason": reason})
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"task_id": taskID, "lease_id": released.LeaseID})
}

// Done transitions a task from ready to done. The acting agent must hold
// the active lease.
func (c *Coordinator) Done(ctx context.Context, taskID, agentID string) Env {
	now := clock.ISO(c.Clock.Now())
	_, err := c.requireActiveLeaseHolder(ctx, taskID, agentID)
	if err != nil {
		return fail(err)
	}

	var updated specstore.Task
	_, err = c.SpecStore.Save(ctx, func(spec *specstore.Spec) error {
		t, ok := spec.Tasks[taskID]
		if !ok {
			return specstore.ErrTaskNotFound
		}
		if t.Status != specstore.StatusReady {
			return stateConflict{TaskID: taskID, Status: string(t.Status)}
		}
		if err := specstore.SetStatus(spec, taskID, specstore.StatusDone, now); err != nil {
			return err
		}
		updated = spec.Tasks[taskID]
		return nil
	})
	if err != nil {
		return fail(err)
	}

	err = c.withTx(ctx, func(tx *sql.Tx) error {
		return c.appendEvent(ctx, tx, EventTaskDone, agentID, taskID, "", Map{})
	})
	if err != nil {
		return fail(err)
	}
	return ok(taskToMap(updated))
}

// Verify transitions a task from done to verified. Any registered agent
// may verify; no lease is required. The response includes the IDs of
// dependent tasks that became newly claimable.
func (c *Coordinator) Verify(ctx context.Context, taskID, agentID string) Env {
	if _, err := c.Store.GetAgent(ctx, agentID); err != nil {
		return fail(err)
	}
	now := clock.ISO(c.Clock.Now())
	var updated specstore.Task
	var newlyReady []string
	finalSpec, err := c.SpecStore.Save(ctx, func(spec *specstore.Spec) error {
		t, ok := spec.Tasks[taskID]
		if !ok {
			return specstore.ErrTaskNotFound
		}
		if t.Status != specstore.StatusDone {
			return stateConflict{TaskID: taskID, Status: string(t.Status)}
		}
		if err := specstore.SetStatus(spec, taskID, specstore.StatusVerified, now); err != nil {
			return err
		}
		updated = spec.Tasks[taskID]
		return nil
	})
	if err != nil {
		return fail(err)
	}
	newlyReady = computeNewlyReady(finalSpec, taskID)

	err = c.withTx(ctx, func(tx *sql.Tx) error {
		return c.appendEvent(ctx, tx, EventTaskVerified, agentID, taskID, "", Map{"newly_ready_task_ids": newlyReady})
	})
	if err != nil {
		return fail(err)
	}
	m := taskToMap(updated)
	m["newly_ready_task_ids"] = newlyReady
	return ok(m)
}

// Complete performs ready -> verified atomically in one spec write: the
// recommended combinator that avoids a task parked in done if a process
// crashes between Done and Verify. The acting agent must hold the lease.
func (c *Coordinator) Complete(ctx context.Context, taskID, agentID string) Env {
	now := clock.ISO(c.Clock.Now())
	if _, err := c.requireActiveLeaseHolder(ctx, taskID, agentID); err != nil {
		return fail(err)
	}

	var updated specstore.Task
	var newlyReady []string
	finalSpec, err := c.SpecStore.Save(ctx, func(spec *specstore.Spec) error {
		t, ok := spec.Tasks[taskID]
		if !ok {
			return specstore.ErrTaskNotFound
		}
		if t.Status != specstore.StatusReady {
			return stateConflict{TaskID: taskID, Status: string(t.Status)}
		}
		if err := specstore.SetStatus(spec, taskID, specstore.StatusVerified, now); err != nil {
			return err
		}
		updated = spec.Tasks[taskID]
		return nil
	})
	if err != nil {
		return fail(err)
	}
	newlyReady = computeNewlyReady(finalSpec, taskID)

	err = c.withTx(ctx, func(tx *sql.Tx) error {
		if err := c.appendEvent(ctx, tx, EventTaskDone, agentID, taskID, "", Map{"via": "complete"}); err != nil {
			return err
		}
		return c.appendEvent(ctx, tx, EventTaskVerified, agentID, taskID, "", Map{"newly_ready_task_ids": newlyReady, "via": "complete"})
	})
	if err != nil {
		return fail(err)
	}
	m := taskToMap(updated)
	m["newly_ready_task_ids"] = newlyReady
	return ok(m)
}

// Context resolves a task's PRD binding against its live source document,
// returning the frozen excerpt, live sections, and drift status.
func (c *Coordinator) Context(ctx context.Context, taskID string, charBudget int) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	t, err := specstore.GetTask(spec, taskID)
	if err != nil {
		return fail(err)
	}
	if t.PRD.IsZero() {
		return ok(Map{"task_id": taskID, "prd_bound": false})
	}
	delivery, err := prd.Deliver(t.PRD.Source, toPRDRefs(t.PRD.Refs), t.PRD.Excerpt, t.PRD.Hash, charBudget)
	if err != nil {
		return fail(err)
	}
	warnings := make([]string, 0)
	for _, s := range delivery.LiveSections {
		if s.Warning != "" {
			warnings = append(warnings, s.Warning)
		}
	}
	return okWarn(Map{
		"task_id":        taskID,
		"prd_bound":      true,
		"frozen_excerpt": delivery.FrozenExcerpt,
		"body":           delivery.Body,
		"truncated":      delivery.Truncated,
		"drift": Map{
			"changed":       delivery.Drift.Changed,
			"affected_refs": delivery.Drift.AffectedRefs,
		},
	}, warnings)
}

// Graph returns a topological ordering of the spec's dependency graph.
func (c *Coordinator) Graph(ctx context.Context) Env {
	spec, err := c.SpecStore.Load()
	if err != nil {
		return fail(err)
	}
	nodes := specNodes(spec)
	order, acyclic := dag.TopoOrder(nodes)
	return ok(Map{"order": order, "acyclic": acyclic})
}

// --- helpers ---

func specNodes(spec specstore.Spec) []dag.Node {
	nodes := make([]dag.Node, 0, len(spec.Tasks))
	for _, t := range spec.OrderedTasks() {
		nodes = append(nodes, dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn})
	}
	return nodes
}

func isClaimable(spec specstore.Spec, t specstore.Task) bool {
	statusOf := make(map[string]string, len(spec.Tasks))
	for id, task := range spec.Tasks {
		statusOf[id] = string(task.Status)
	}
	node := dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn}
	return dag.IsClaimable(node, string(specstore.StatusReady), string(specstore.StatusVerified), statusOf)
}

func computeNewlyReady(spec specstore.Spec, verifiedID string) []string {
	nodes := specNodes(spec)
	statusOf := make(map[string]string, len(spec.Tasks))
	for id, t := range spec.Tasks {
		statusOf[id] = string(t.Status)
	}
	var newlyReady []string
	for _, dependentID := range dag.DependentsOf(nodes, verifiedID) {
		t := spec.Tasks[dependentID]
		node := dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn}
		if dag.IsClaimable(node, string(specstore.StatusReady), string(specstore.StatusVerified), statusOf) {
			newlyReady = append(newlyReady, dependentID)
		}
	}
	return newlyReady
}

// requireActiveLeaseHolder fails unless agentID holds the active lease on
// taskID.
func (c *Coordinator) requireActiveLeaseHolder(ctx context.Context, taskID, agentID string) (store.Lease, error) {
	var l store.Lease
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		active, found, err := c.Lease.ActiveFor(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !found {
			return lease.ErrNoActiveLease
		}
		if active.AgentID != agentID {
			return lease.ErrNotHeld
		}
		l = active
		return nil
	})
	return l, err
}

// lockOverlapWarnings returns advisory warnings when t's locks glob-overlap
// the locks of another non-deleted task that holds an active lease (a key of
// activeTaskIDs). This is advisory only; it never blocks a claim.
func lockOverlapWarnings(spec specstore.Spec, t specstore.Task, activeTaskIDs map[string]bool) []string {
	var warnings []string
	for _, other := range spec.OrderedTasks() {
		if other.ID == t.ID || other.Status == specstore.StatusDeleted || !activeTaskIDs[other.ID] {
			continue
		}
		for _, pattern := range t.Locks {
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				continue
			}
			for _, otherLock := range other.Locks {
				if g.Match(otherLock) || otherLock == pattern {
					warnings = append(warnings, fmt.Sprintf("locks overlap with task %s (%s)", other.ID, pattern))
				}
			}
		}
	}
	return warnings
}

func toPRDRefs(refs []specstore.PRDRef) []prd.Ref {
	out := make([]prd.Ref, 0, len(refs))
	for _, r := range refs {
		out = append(out, prd.Ref{Anchor: r.Anchor, Lines: r.Lines})
	}
	return out
}

