// Package lease implements the atomic claim/renew/release lifecycle over a
// task's runtime lease. All "active" predicates are expires_at > now; there
// is no background sweeper, so expiration is purely lazy.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// MinTTL and MaxTTL bound every lease duration regardless of what the caller
// requests.
const (
	MinTTL = 60 * time.Second
	MaxTTL = 2 * time.Hour
)

// ErrNotHeld is returned when Renew or Release is attempted by an agent that
// does not hold the active lease.
var ErrNotHeld = errors.New("lease: not held by this agent")

// ErrNoActiveLease is returned by Renew/Release when no lease is active.
var ErrNoActiveLease = errors.New("lease: no active lease")

// AlreadyClaimed is returned by Claim when an unexpired lease belongs to a
// different agent.
type AlreadyClaimed struct {
	Holder    string
	ExpiresAt string
}

func (e AlreadyClaimed) Error() string {
	return fmt.Sprintf("lease: task already claimed by %s until %s", e.Holder, e.ExpiresAt)
}

// ClampTTL restricts ttl to [MinTTL, MaxTTL].
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// Engine wires the lease lifecycle against the runtime store.
type Engine struct {
	Store store.Store
	Clock clock.Clock
}

// Claim creates a new lease for taskID/agentID if no active lease exists. It
// does not itself check task claimability (§4.I); callers check that
// before calling Claim.
func (e Engine) Claim(ctx context.Context, tx *sql.Tx, taskID, agentID string, ttl time.Duration) (store.Lease, error) {
	now := clock.ISO(e.Clock.Now())
	if existing, active, err := e.Store.ActiveLease(ctx, tx, taskID, now); err != nil {
		return store.Lease{}, err
	} else if active {
		if existing.AgentID == agentID {
			return existing, nil
		}
		return store.Lease{}, AlreadyClaimed{Holder: existing.AgentID, ExpiresAt: existing.ExpiresAt}
	}

	ttl = ClampTTL(ttl)
	expires := e.Clock.Now().Add(ttl)
	newLease := store.Lease{
		LeaseID:   uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		CreatedAt: now,
		ExpiresAt: clock.ISO(expires),
	}
	if err := e.Store.InsertLease(ctx, tx, newLease); err != nil {
		return store.Lease{}, err
	}
	return newLease, nil
}

// ForceClaim claims taskID for agentID regardless of who holds it, but only
// when the existing lease (if any) is already expired; otherwise it behaves
// exactly like Claim.
func (e Engine) ForceClaim(ctx context.Context, tx *sql.Tx, taskID, agentID string, ttl time.Duration) (store.Lease, error) {
	return e.Claim(ctx, tx, taskID, agentID, ttl)
}

// Renew extends the current lease holder's expiry. Only the holder of an
// active lease may renew; an expired lease cannot be renewed.
func (e Engine) Renew(ctx context.Context, tx *sql.Tx, taskID, agentID string, ttl time.Duration) (store.Lease, error) {
	now := clock.ISO(e.Clock.Now())
	existing, active, err := e.Store.ActiveLease(ctx, tx, taskID, now)
	if err != nil {
		return store.Lease{}, err
	}
	if !active {
		return store.Lease{}, ErrNoActiveLease
	}
	if existing.AgentID != agentID {
		return store.Lease{}, ErrNotHeld
	}
	ttl = ClampTTL(ttl)
	newExpiry := clock.ISO(e.Clock.Now().Add(ttl))
	if err := e.Store.SetLeaseExpiry(ctx, tx, existing.LeaseID, newExpiry); err != nil {
		return store.Lease{}, err
	}
	existing.ExpiresAt = newExpiry
	return existing, nil
}

// Release ends the current holder's lease immediately by setting its
// expiry to now, so it reads as inactive from this point on.
func (e Engine) Release(ctx context.Context, tx *sql.Tx, taskID, agentID string) (store.Lease, error) {
	now := clock.ISO(e.Clock.Now())
	existing, active, err := e.Store.ActiveLease(ctx, tx, taskID, now)
	if err != nil {
		return store.Lease{}, err
	}
	if !active {
		return store.Lease{}, ErrNoActiveLease
	}
	if existing.AgentID != agentID {
		return store.Lease{}, ErrNotHeld
	}
	if err := e.Store.SetLeaseExpiry(ctx, tx, existing.LeaseID, now); err != nil {
		return store.Lease{}, err
	}
	existing.ExpiresAt = now
	return existing, nil
}

// ActiveFor returns the active lease for a task, if any.
func (e Engine) ActiveFor(ctx context.Context, tx *sql.Tx, taskID string) (store.Lease, bool, error) {
	return e.Store.ActiveLease(ctx, tx, taskID, clock.ISO(e.Clock.Now()))
}

// OrphanCleanup runs at service initialization: every active lease whose
// agent_id no longer has an agents row is expired immediately, returning the
// affected leases so the caller can emit lease.orphaned events.
func (e Engine) OrphanCleanup(ctx context.Context, tx *sql.Tx) ([]store.Lease, error) {
	now := clock.ISO(e.Clock.Now())
	orphans, err := e.Store.OrphanLeases(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	for _, l := range orphans {
		if err := e.Store.SetLeaseExpiry(ctx, tx, l.LeaseID, now); err != nil {
			return nil, err
		}
	}
	return orphans, nil
}
