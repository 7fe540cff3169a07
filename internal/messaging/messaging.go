// Package messaging implements send/list/thread/search/ack over the
// runtime store's messages table, enforcing the validation and read-state
// rules from the spec's messaging component.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// MaxBodyBytes is the hard cap on a message body.
const MaxBodyBytes = 16 * 1024

// DefaultListLimit and MaxListLimit bound list/thread/search result sizes.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ErrBodyTooLarge is returned when a message body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("messaging: body exceeds 16 KiB")

// ErrInvalidRecipient is returned when to_type is "agent" but the agent does
// not exist.
var ErrInvalidRecipient = errors.New("messaging: recipient agent does not exist")

// ErrNoSearchPredicate is returned when Search is called with every
// predicate empty.
var ErrNoSearchPredicate = errors.New("messaging: at least one search predicate is required")

// ErrInvalidToType is returned for a to_type outside {agent, task}.
var ErrInvalidToType = errors.New("messaging: to_type must be \"agent\" or \"task\"")

// ErrMessageNotFound is returned when a message ID does not resolve to a
// row, distinguishing "no such message" from "no such agent" so callers
// that key on store.ErrNotFound elsewhere don't conflate the two.
var ErrMessageNotFound = errors.New("messaging: message not found")

// Service composes the runtime store with a clock for message operations.
type Service struct {
	Store store.Store
	Clock clock.Clock
}

// SendInput is the payload for Send.
type SendInput struct {
	From     string
	ToType   string
	ToID     string
	Body     string
	Subject  string
	Severity string
	TaskID   string
}

// Send validates and inserts a message inside tx, returning its ID. Callers
// are responsible for appending the corresponding task.* / message.sent
// event inside the same transaction.
func (s Service) Send(ctx context.Context, tx *sql.Tx, in SendInput) (int64, error) {
	if in.ToType != "agent" && in.ToType != "task" {
		return 0, ErrInvalidToType
	}
	if len(in.Body) > MaxBodyBytes {
		return 0, ErrBodyTooLarge
	}
	if _, err := s.Store.GetAgent(ctx, in.From); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("messaging: sender %q not registered: %w", in.From, err)
		}
		return 0, err
	}
	if in.ToType == "agent" {
		if _, err := s.Store.GetAgent(ctx, in.ToID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, ErrInvalidRecipient
			}
			return 0, err
		}
	}

	return s.Store.InsertMessage(ctx, tx, store.Message{
		CreatedAt:   clock.ISO(s.Clock.Now()),
		FromAgentID: in.From,
		ToType:      in.ToType,
		ToID:        in.ToID,
		TaskID:      in.TaskID,
		Subject:     in.Subject,
		Body:        in.Body,
		Severity:    in.Severity,
	})
}

// ListInput narrows List.
type ListInput struct {
	RecipientAgentID string
	UnreadOnly       bool
	FromAgentID      string
	Since, Until     string
	Limit            int
	MarkRead         bool
}

// List returns messages addressed to RecipientAgentID, newest-first,
// optionally marking every returned message read inside tx.
func (s Service) List(ctx context.Context, tx *sql.Tx, in ListInput) ([]store.Message, error) {
	limit := clampLimit(in.Limit)
	msgs, err := s.Store.ListMessages(ctx, store.MessageFilters{
		ToType: "agent", ToID: in.RecipientAgentID,
		Unread: in.UnreadOnly, FromAgent: in.FromAgentID,
		Since: in.Since, Until: in.Until, Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	if in.MarkRead && tx != nil {
		now := clock.ISO(s.Clock.Now())
		for i := range msgs {
			if msgs[i].ReadAt != "" {
				continue
			}
			if err := s.Store.AckMessage(ctx, tx, msgs[i].MessageID, now); err != nil {
				return nil, err
			}
			msgs[i].ReadAt = now
		}
	}
	return msgs, nil
}

// Thread returns every message addressed to a task, oldest first.
func (s Service) Thread(ctx context.Context, taskID string) ([]store.Message, error) {
	return s.Store.Thread(ctx, taskID)
}

// SearchInput narrows Search; at least one field besides Limit must be set.
type SearchInput struct {
	Keyword      string
	FromAgentID  string
	Since, Until string
	Limit        int
}

// Search performs a case-insensitive body/subject match plus optional
// sender and time-range narrowing. At least one predicate is required.
func (s Service) Search(ctx context.Context, in SearchInput) ([]store.Message, error) {
	if strings.TrimSpace(in.Keyword) == "" && in.FromAgentID == "" && in.Since == "" && in.Until == "" {
		return nil, ErrNoSearchPredicate
	}
	return s.Store.SearchMessages(ctx, store.SearchFilters{
		Keyword: in.Keyword, FromAgent: in.FromAgentID, Since: in.Since, Until: in.Until, Limit: clampLimit(in.Limit),
	})
}

// Ack marks a message read if it is addressed to agentID and not already
// read; acking an already-read or misaddressed message is a silent no-op.
func (s Service) Ack(ctx context.Context, tx *sql.Tx, agentID string, messageID int64) error {
	msg, err := s.Store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if msg.ToType != "agent" || msg.ToID != agentID {
		return nil
	}
	if msg.ReadAt != "" {
		return nil
	}
	return s.Store.AckMessage(ctx, tx, messageID, clock.ISO(s.Clock.Now()))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
