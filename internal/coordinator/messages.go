package coordinator

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/store"
)

func messageToMap(m store.Message) Map {
	return Map{
		"message_id":    m.MessageID,
		"created_at":    m.CreatedAt,
		"from_agent_id": m.FromAgentID,
		"to_type":       m.ToType,
		"to_id":         m.ToID,
		"task_id":       m.TaskID,
		"subject":       m.Subject,
		"body":          m.Body,
		"severity":      m.Severity,
		"read_at":       m.ReadAt,
	}
}

// SendMessage sends a message from agentID to either another agent or a
// task thread, appending message.sent in the same transaction as the insert.
func (c *Coordinator) SendMessage(ctx context.Context, in messaging.SendInput) Env {
	var id int64
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		var serr error
		id, serr = c.Messaging.Send(ctx, tx, in)
		if serr != nil {
			return serr
		}
		return c.appendEvent(ctx, tx, EventMessageSent, in.From, in.TaskID, recipientAgentID(in), Map{
			"message_id": id, "to_type": in.ToType, "to_id": in.ToID,
		})
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"message_id": id})
}

func recipientAgentID(in messaging.SendInput) string {
	if in.ToType == "agent" {
		return in.ToID
	}
	return ""
}

// ListMessages returns messages addressed to an agent, optionally marking
// them read in the same transaction as the read.
func (c *Coordinator) ListMessages(ctx context.Context, in messaging.ListInput) Env {
	var msgs []store.Message
	var readIDs []int64
	run := func(tx *sql.Tx) error {
		before := map[int64]bool{}
		if in.MarkRead {
			unread, err := c.Store.ListMessages(ctx, store.MessageFilters{
				ToType: "agent", ToID: in.RecipientAgentID, Unread: true,
			})
			if err != nil {
				return err
			}
			for _, m := range unread {
				before[m.MessageID] = true
			}
		}
		var err error
		msgs, err = c.Messaging.List(ctx, tx, in)
		if err != nil {
			return err
		}
		if in.MarkRead {
			for _, m := range msgs {
				if before[m.MessageID] {
					readIDs = append(readIDs, m.MessageID)
				}
			}
		}
		return nil
	}

	var err error
	if in.MarkRead {
		err = c.withTx(ctx, func(tx *sql.Tx) error {
			if rerr := run(tx); rerr != nil {
				return rerr
			}
			for _, id := range readIDs {
				if eerr := c.appendEvent(ctx, tx, EventMessageRead, in.RecipientAgentID, "", "", Map{"message_id": id}); eerr != nil {
					return eerr
				}
			}
			return nil
		})
	} else {
		err = run(nil)
	}
	if err != nil {
		return fail(err)
	}

	items := make([]Map, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageToMap(m))
	}
	return ok(Map{"messages": items})
}

// Thread returns every message addressed to a task, oldest first.
func (c *Coordinator) Thread(ctx context.Context, taskID string) Env {
	msgs, err := c.Messaging.Thread(ctx, taskID)
	if err != nil {
		return fail(err)
	}
	items := make([]Map, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageToMap(m))
	}
	return ok(Map{"task_id": taskID, "messages": items})
}

// SearchMessages searches message subject/body by keyword and/or sender and
// time range; at least one predicate is required.
func (c *Coordinator) SearchMessages(ctx context.Context, in messaging.SearchInput) Env {
	msgs, err := c.Messaging.Search(ctx, in)
	if err != nil {
		return fail(err)
	}
	items := make([]Map, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageToMap(m))
	}
	return ok(Map{"messages": items})
}

// AckMessage marks a single message read on behalf of agentID. Acking a
// message not addressed to agentID, or already read, is a silent no-op.
func (c *Coordinator) AckMessage(ctx context.Context, agentID string, messageID int64) Env {
	var acked bool
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		before, gerr := c.Store.GetMessage(ctx, messageID)
		if gerr != nil {
			if errors.Is(gerr, store.ErrNotFound) {
				return messaging.ErrMessageNotFound
			}
			return gerr
		}
		if aerr := c.Messaging.Ack(ctx, tx, agentID, messageID); aerr != nil {
			return aerr
		}
		acked = before.ReadAt == "" && before.ToType == "agent" && before.ToID == agentID
		if acked {
			return c.appendEvent(ctx, tx, EventMessageRead, agentID, "", "", Map{"message_id": messageID})
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return ok(Map{"message_id": messageID, "acked": acked})
}
