package coordinator

import (
	"context"

	"github.com/lodestar-dev/lodestar/internal/store"
)

// MaxPullLimit caps a single events.pull call regardless of what the caller
// requests.
const MaxPullLimit = 1000

func eventToMap(e store.Event) Map {
	return Map{
		"id":              e.ID,
		"created_at":      e.CreatedAt,
		"type":            e.Type,
		"actor_agent_id":  e.ActorAgentID,
		"task_id":         e.TaskID,
		"target_agent_id": e.TargetAgentID,
		"payload":         e.Payload,
	}
}

// PullEvents returns events with id > sinceCursor, ascending, capped at
// limit (clamped to MaxPullLimit), optionally filtered to a set of types.
// The response's next_cursor is the ID of the last event returned, or
// sinceCursor unchanged if nothing new is available.
func (c *Coordinator) PullEvents(ctx context.Context, sinceCursor int64, limit int, types []string) Env {
	if limit <= 0 || limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	events, err := c.Store.PullEvents(ctx, sinceCursor, limit, types)
	if err != nil {
		return fail(err)
	}
	nextCursor := sinceCursor
	items := make([]Map, 0, len(events))
	for _, e := range events {
		items = append(items, eventToMap(e))
		nextCursor = e.ID
	}
	return ok(Map{"events": items, "next_cursor": nextCursor})
}
