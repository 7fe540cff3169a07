package coordinator

import (
	"context"
	"database/sql"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// agentToMap renders a store.Agent as an envelope payload fragment.
func agentToMap(a store.Agent) Map {
	return Map{
		"agent_id":      a.AgentID,
		"display_name":  a.DisplayName,
		"role":          a.Role,
		"capabilities":  a.Capabilities,
		"registered_at": a.RegisteredAt,
		"last_seen_at":  a.LastSeenAt,
		"session_meta":  a.SessionMeta,
	}
}

// Join registers a new agent. agentID is caller-supplied (a stable token);
// registering an ID that already exists fails with AgentAlreadyExists.
func (c *Coordinator) Join(ctx context.Context, agentID, displayName, role string, capabilities []string, sessionMeta Map) Env {
	now := clock.ISO(c.Clock.Now())
	agent := store.Agent{
		AgentID: agentID, DisplayName: displayName, Role: role,
		Capabilities: capabilities, RegisteredAt: now, LastSeenAt: now, SessionMeta: sessionMeta,
	}
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		if err := c.Store.InsertAgent(ctx, tx, agent); err != nil {
			return err
		}
		return c.appendEvent(ctx, tx, EventAgentJoined, agentID, "", "", Map{})
	})
	if err != nil {
		return fail(err)
	}
	return ok(agentToMap(agent))
}

// ListAgents returns every registered agent.
func (c *Coordinator) ListAgents(ctx context.Context) Env {
	agents, err := c.Store.ListAgents(ctx)
	if err != nil {
		return fail(err)
	}
	items := make([]Map, 0, len(agents))
	for _, a := range agents {
		items = append(items, agentToMap(a))
	}
	return ok(Map{"agents": items})
}

// FindAgent looks up a single agent by ID.
func (c *Coordinator) FindAgent(ctx context.Context, agentID string) Env {
	a, err := c.Store.GetAgent(ctx, agentID)
	if err != nil {
		return fail(err)
	}
	return ok(agentToMap(a))
}

// Heartbeat updates last_seen_at. Per design, heartbeats do not extend any
// active lease — liveness and lease possession are independent signals.
func (c *Coordinator) Heartbeat(ctx context.Context, agentID string) Env {
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		now := clock.ISO(c.Clock.Now())
		if err := c.Store.TouchAgent(ctx, tx, agentID, now); err != nil {
			return err
		}
		return c.appendEvent(ctx, tx, EventAgentHeartbeat, agentID, "", "", Map{})
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"agent_id": agentID})
}

// Leave removes an agent's record. Its leases are left in place for orphan
// cleanup to reconcile on the next service initialization.
func (c *Coordinator) Leave(ctx context.Context, agentID string) Env {
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		if err := c.Store.DeleteAgent(ctx, tx, agentID); err != nil {
			return err
		}
		return c.appendEvent(ctx, tx, EventAgentLeft, agentID, "", "", Map{})
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"agent_id": agentID})
}

// OrphanCleanup runs the lease engine's orphan reconciliation and emits one
// lease.orphaned event per affected lease. Intended for service startup.
func (c *Coordinator) OrphanCleanup(ctx context.Context) Env {
	var orphaned []store.Lease
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		orphaned, err = c.Lease.OrphanCleanup(ctx, tx)
		if err != nil {
			return err
		}
		for _, l := range orphaned {
			if err := c.appendEvent(ctx, tx, EventLeaseOrphaned, "", l.TaskID, l.AgentID, Map{"lease_id": l.LeaseID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	ids := make([]string, 0, len(orphaned))
	for _, l := range orphaned {
		ids = append(ids, l.LeaseID)
	}
	return ok(Map{"orphaned_lease_ids": ids})
}
