package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lodestar-dev/lodestar/internal/anchor"
	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *clock.Frozen) {
	t.Helper()
	dir := t.TempDir()
	a, err := anchor.Init(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.SpecPath(), []byte(defaultSpecYAML), 0o644))

	now, err := clock.ParseISO("2026-08-02T00:00:00Z")
	require.NoError(t, err)
	frozen := clock.NewFrozen(now)

	db, err := store.Open(a.RuntimeDBPath())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := New(a, db, frozen, 0)
	return c, frozen
}

func joinAgent(t *testing.T, c *Coordinator, id string) {
	t.Helper()
	env := c.Join(context.Background(), id, id, "worker", nil, nil)
	require.True(t, env.OK, "%+v", env.Error)
}

func createTask(t *testing.T, c *Coordinator, id string, dependsOn ...string) {
	t.Helper()
	env := c.CreateTask(context.Background(), CreateTaskInput{
		ID: id, Title: "task " + id, DependsOn: dependsOn,
	})
	require.True(t, env.OK, "%+v", env.Error)
}

func TestJoinThenClaimThenDone(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	createTask(t, c, "t1")

	claimEnv := c.Claim(ctx, "t1", "ag1", time.Minute, false)
	require.True(t, claimEnv.OK, "%+v", claimEnv.Error)

	doneEnv := c.Done(ctx, "t1", "ag1")
	require.True(t, doneEnv.OK, "%+v", doneEnv.Error)
	require.Equal(t, "done", doneEnv.Data["status"])
}

func TestContestedClaimReturnsHolderDetails(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	joinAgent(t, c, "ag2")
	createTask(t, c, "t1")

	env1 := c.Claim(ctx, "t1", "ag1", time.Minute, false)
	require.True(t, env1.OK)

	env2 := c.Claim(ctx, "t1", "ag2", time.Minute, false)
	require.False(t, env2.OK)
	require.Equal(t, "task_already_claimed", string(env2.Error.Code))
	require.Equal(t, "ag1", env2.Error.Details["holder"])
}

func TestLeaseExpiryAllowsReclaimWithoutForce(t *testing.T) {
	c, frozen := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	joinAgent(t, c, "ag2")
	createTask(t, c, "t1")

	env1 := c.Claim(ctx, "t1", "ag1", time.Minute, false)
	require.True(t, env1.OK)

	frozen.Advance(2 * time.Minute)

	env2 := c.Claim(ctx, "t1", "ag2", time.Minute, false)
	require.True(t, env2.OK, "%+v", env2.Error)
	require.Equal(t, "ag2", env2.Data["agent_id"])
}

func TestVerifyCascadeProducesNewlyReadyTasks(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	createTask(t, c, "a")
	createTask(t, c, "b", "a")

	require.True(t, c.Claim(ctx, "a", "ag1", time.Minute, false).OK)
	require.True(t, c.Done(ctx, "a", "ag1").OK)

	verifyEnv := c.Verify(ctx, "a", "ag1")
	require.True(t, verifyEnv.OK, "%+v", verifyEnv.Error)
	newlyReady, _ := verifyEnv.Data["newly_ready_task_ids"].([]string)
	require.Equal(t, []string{"b"}, newlyReady)

	nextEnv := c.Next(ctx, 10, "ag1")
	require.True(t, nextEnv.OK)
	tasks := nextEnv.Data["tasks"].([]Map)
	require.Len(t, tasks, 1)
	require.Equal(t, "b", tasks[0]["id"])
}

func TestCompleteIsAtomicReadyToVerified(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	createTask(t, c, "t1")

	require.True(t, c.Claim(ctx, "t1", "ag1", time.Minute, false).OK)
	completeEnv := c.Complete(ctx, "t1", "ag1")
	require.True(t, completeEnv.OK, "%+v", completeEnv.Error)
	require.Equal(t, "verified", completeEnv.Data["status"])
}

func TestDeleteWithoutCascadeRejectsLiveDependents(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createTask(t, c, "a")
	createTask(t, c, "b", "a")

	env := c.DeleteTask(ctx, "a", false)
	require.False(t, env.OK)

	cascadeEnv := c.DeleteTask(ctx, "a", true)
	require.True(t, cascadeEnv.OK, "%+v", cascadeEnv.Error)
	ids, _ := cascadeEnv.Data["deleted_task_ids"].([]string)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestOrphanCleanupReopensTaskForClaim(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	joinAgent(t, c, "ag2")
	createTask(t, c, "t1")

	require.True(t, c.Claim(ctx, "t1", "ag1", time.Minute, false).OK)
	require.True(t, c.Leave(ctx, "ag1").OK)

	cleanupEnv := c.OrphanCleanup(ctx)
	require.True(t, cleanupEnv.OK, "%+v", cleanupEnv.Error)
	ids, _ := cleanupEnv.Data["orphaned_lease_ids"].([]string)
	require.Len(t, ids, 1)

	env2 := c.Claim(ctx, "t1", "ag2", time.Minute, false)
	require.True(t, env2.OK, "%+v", env2.Error)
}

func TestEventPullCursorRanges(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	for i := 0; i < 40; i++ {
		require.True(t, c.Heartbeat(ctx, "ag1").OK)
	}

	// one agent.joined event plus 40 agent.heartbeat events.
	page1 := c.PullEvents(ctx, 0, 41, nil)
	require.True(t, page1.OK)
	events1 := page1.Data["events"].([]Map)
	require.Len(t, events1, 41)
	cursor1 := page1.Data["next_cursor"].(int64)

	page2 := c.PullEvents(ctx, cursor1, 100, nil)
	require.True(t, page2.OK)
	events2 := page2.Data["events"].([]Map)
	require.Len(t, events2, 0)
	require.Equal(t, cursor1, page2.Data["next_cursor"])
}

func TestMessagingSendListAck(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	joinAgent(t, c, "ag1")
	joinAgent(t, c, "ag2")

	sendEnv := c.SendMessage(ctx, messaging.SendInput{From: "ag1", ToType: "agent", ToID: "ag2", Body: "hi"})
	require.True(t, sendEnv.OK, "%+v", sendEnv.Error)
	msgID := sendEnv.Data["message_id"].(int64)

	listEnv := c.ListMessages(ctx, messaging.ListInput{RecipientAgentID: "ag2", MarkRead: true})
	require.True(t, listEnv.OK)
	msgs := listEnv.Data["messages"].([]Map)
	require.Len(t, msgs, 1)

	ackEnv := c.AckMessage(ctx, "ag2", msgID)
	require.True(t, ackEnv.OK)
	require.False(t, ackEnv.Data["acked"].(bool))
}

func TestHealthCheckAndStatus(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createTask(t, c, "t1")

	healthEnv := c.HealthCheck(ctx)
	require.True(t, healthEnv.OK, "%+v", healthEnv.Error)

	statusEnv := c.Status(ctx)
	require.True(t, statusEnv.OK, "%+v", statusEnv.Error)
	counts := statusEnv.Data["task_counts"].(map[string]int)
	require.Equal(t, 1, counts["ready"])
}

func TestCreateTaskRejectsDuplicateID(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createTask(t, c, "t1")

	env := c.CreateTask(ctx, CreateTaskInput{ID: "t1", Title: "again"})
	require.False(t, env.OK)
	require.Equal(t, "invalid_input", string(env.Error.Code))
}

func TestUpdateTaskPartialFields(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createTask(t, c, "t1")

	newTitle := "renamed"
	env := c.UpdateTask(ctx, UpdateTaskInput{TaskID: "t1", Title: &newTitle})
	require.True(t, env.OK, "%+v", env.Error)
	require.Equal(t, "renamed", env.Data["title"])
	require.Equal(t, "", env.Data["description"])
}

func TestGraphReturnsTopoOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createTask(t, c, "a")
	createTask(t, c, "b", "a")

	env := c.Graph(ctx)
	require.True(t, env.OK, "%+v", env.Error)
	require.True(t, env.Data["acyclic"].(bool))
	order := env.Data["order"].([]string)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestPRDContextReportsDrift(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	prdPath := filepath.Join(t.TempDir(), "PRD.md")
	require.NoError(t, os.WriteFile(prdPath, []byte("# Scope\ninitial text\n"), 0o644))

	createEnv := c.CreateTask(ctx, CreateTaskInput{
		ID: "t1", Title: "task t1",
		PRDSource: prdPath,
		PRDRefs:   []specstore.PRDRef{{Anchor: "scope"}},
	})
	require.True(t, createEnv.OK, "%+v", createEnv.Error)

	contextEnv := c.Context(ctx, "t1", 0)
	require.True(t, contextEnv.OK, "%+v", contextEnv.Error)
	drift := contextEnv.Data["drift"].(Map)
	require.False(t, drift["changed"].(bool))

	require.NoError(t, os.WriteFile(prdPath, []byte("# Scope\nchanged text\n"), 0o644))
	contextEnv2 := c.Context(ctx, "t1", 0)
	require.True(t, contextEnv2.OK, "%+v", contextEnv2.Error)
	drift2 := contextEnv2.Data["drift"].(Map)
	require.True(t, drift2["changed"].(bool))
}
