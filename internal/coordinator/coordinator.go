// Package coordinator is the stateful facade callers mutate through. It
// composes the spec store, DAG analyzer, PRD resolver, runtime store, lease
// engine, scheduler, and messaging service, enforces cross-component
// invariants, and returns every result as a uniform envelope.
package coordinator

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lodestar-dev/lodestar/internal/anchor"
	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/lease"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/scheduler"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// Closed event-type set per the spec's event log.
const (
	EventAgentJoined    = "agent.joined"
	EventAgentLeft      = "agent.left"
	EventAgentHeartbeat = "agent.heartbeat"
	EventTaskClaimed    = "task.claimed"
	EventTaskReleased   = "task.released"
	EventTaskDone       = "task.done"
	EventTaskVerified   = "task.verified"
	EventTaskDeleted    = "task.deleted"
	EventMessageSent    = "message.sent"
	EventMessageRead    = "message.read"
	EventLeaseOrphaned  = "lease.orphaned"
)

// DefaultLeaseTTL is used when a caller omits a TTL on claim/renew.
const DefaultLeaseTTL = 15 * time.Minute

// Map is the generic envelope payload type used throughout the coordinator,
// mirroring the teacher's map[string]any response-body idiom.
type Map = map[string]any

// Env is shorthand for the envelope type every operation returns.
type Env = envelope.Envelope[Map]

// Coordinator composes every engine component behind one facade.
type Coordinator struct {
	Anchor    anchor.Anchor
	SpecStore *specstore.Store
	DB        *sql.DB
	Store     store.Store
	Lease     lease.Engine
	Scheduler scheduler.Scheduler
	Messaging messaging.Service
	Clock     clock.Clock

	// DefaultTTL overrides DefaultLeaseTTL for Claim/Renew calls that omit
	// an explicit TTL. Zero means "use DefaultLeaseTTL".
	DefaultTTL time.Duration
}

// New wires a Coordinator from an initialized anchor and runs orphan lease
// cleanup once, the way the teacher's webhook dispatcher logs and moves on
// rather than failing the whole process over a best-effort background step.
// defaultTTL overrides DefaultLeaseTTL when claim/renew omit an explicit TTL;
// zero keeps the package default.
func New(a anchor.Anchor, db *sql.DB, c clock.Clock, defaultTTL time.Duration) *Coordinator {
	s := store.Store{DB: db}
	co := &Coordinator{
		Anchor:     a,
		SpecStore:  specstore.New(a.SpecPath(), a.LockPath(), c),
		DB:         db,
		Store:      s,
		Lease:      lease.Engine{Store: s, Clock: c},
		Scheduler:  scheduler.Scheduler{Store: s, Clock: c},
		Messaging:  messaging.Service{Store: s, Clock: c},
		Clock:      c,
		DefaultTTL: defaultTTL,
	}
	if env := co.OrphanCleanup(context.Background()); !env.OK {
		log.Printf("coordinator: startup orphan cleanup failed: %s", env.Error.Message)
	}
	return co
}

// defaultTTL returns c.DefaultTTL if set, else the package-level fallback.
func (c *Coordinator) defaultTTL() time.Duration {
	if c.DefaultTTL > 0 {
		return c.DefaultTTL
	}
	return DefaultLeaseTTL
}

// withTx runs fn inside a runtime transaction, committing on success and
// rolling back on any error (including a panic recovery is intentionally
// omitted — errors are the only control-flow path used here).
func (c *Coordinator) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Coordinator) appendEvent(ctx context.Context, tx *sql.Tx, typ, actorAgentID, taskID, targetAgentID string, payload Map) error {
	return c.Store.AppendEvent(ctx, tx, store.Event{
		CreatedAt:     clock.ISO(c.Clock.Now()),
		Type:          typ,
		ActorAgentID:  actorAgentID,
		TaskID:        taskID,
		TargetAgentID: targetAgentID,
		Payload:       payload,
	})
}

func newID() string { return uuid.NewString() }

// ok builds a successful envelope with optional next-action hints.
func ok(data Map, next ...string) Env {
	return envelope.Ok(data, next, nil)
}

// okWarn builds a successful envelope carrying warnings (e.g. advisory lock
// glob overlaps on claim).
func okWarn(data Map, warnings []string, next ...string) Env {
	return envelope.Ok(data, next, warnings)
}
