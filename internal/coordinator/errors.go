package coordinator

import (
	"errors"

	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/lease"
	"github.com/lodestar-dev/lodestar/internal/messaging"
	"github.com/lodestar-dev/lodestar/internal/prd"
	"github.com/lodestar-dev/lodestar/internal/specstore"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// fail maps an internal error to a failed envelope with the closed code set
// from the spec's error-handling design. Unrecognized errors map to
// RuntimeCorrupt so no internal detail leaks as a bare message.
func fail(err error) Env {
	switch {
	case errors.Is(err, specstore.ErrSpecMissing):
		return envelope.Fail[Map](envelope.CodeNotInitialized, "spec file missing", nil)
	case errors.Is(err, specstore.ErrLockTimeout):
		return envelope.Fail[Map](envelope.CodeLockTimeout, err.Error(), nil)
	case errors.Is(err, specstore.ErrTaskNotFound):
		return envelope.Fail[Map](envelope.CodeTaskNotFound, err.Error(), nil)
	case errors.Is(err, messaging.ErrMessageNotFound):
		return envelope.Fail[Map](envelope.CodeInvalidInput, err.Error(), Map{"field": "message_id", "reason": "not found"})
	case errors.Is(err, store.ErrNotFound):
		return envelope.Fail[Map](envelope.CodeAgentNotRegistered, err.Error(), nil)
	case errors.Is(err, store.ErrAlreadyExists):
		return envelope.Fail[Map](envelope.CodeAgentAlreadyExists, err.Error(), nil)
	case errors.Is(err, lease.ErrNotHeld):
		return envelope.Fail[Map](envelope.CodeTaskLeaseNotHeld, err.Error(), nil)
	case errors.Is(err, lease.ErrNoActiveLease):
		return envelope.Fail[Map](envelope.CodeTaskLeaseNotHeld, err.Error(), nil)
	case errors.Is(err, messaging.ErrBodyTooLarge):
		return envelope.Fail[Map](envelope.CodeMessageTooLarge, err.Error(), nil)
	case errors.Is(err, messaging.ErrInvalidRecipient):
		return envelope.Fail[Map](envelope.CodeMessageRecipientInvalid, err.Error(), nil)
	case errors.Is(err, messaging.ErrInvalidToType), errors.Is(err, messaging.ErrNoSearchPredicate):
		return envelope.Fail[Map](envelope.CodeInvalidInput, err.Error(), nil)
	case errors.Is(err, prd.ErrSourceMissing):
		return envelope.Fail[Map](envelope.CodeInvalidInput, err.Error(), nil)
	}

	var malformed specstore.MalformedError
	if errors.As(err, &malformed) {
		return envelope.Fail[Map](envelope.CodeSpecMalformed, err.Error(), nil)
	}
	var invErr specstore.InvariantError
	if errors.As(err, &invErr) {
		return envelope.Fail[Map](envelope.CodeSpecInvariantViolation, err.Error(), Map{
			"kind":    string(invErr.Kind),
			"task_id": invErr.TaskID,
			"path":    invErr.Path,
		})
	}
	var conflict lease.AlreadyClaimed
	if errors.As(err, &conflict) {
		return envelope.Fail[Map](envelope.CodeTaskAlreadyClaimed, err.Error(), Map{
			"holder":     conflict.Holder,
			"expires_at": conflict.ExpiresAt,
		})
	}
	var inv invalidInput
	if errors.As(err, &inv) {
		return envelope.Fail[Map](envelope.CodeInvalidInput, inv.Error(), Map{"field": inv.Field, "reason": inv.Reason})
	}
	var nc notClaimable
	if errors.As(err, &nc) {
		return envelope.Fail[Map](envelope.CodeTaskNotClaimable, nc.Error(), Map{"task_id": nc.TaskID})
	}
	var sc stateConflict
	if errors.As(err, &sc) {
		return envelope.Fail[Map](envelope.CodeTaskStateConflict, sc.Error(), Map{"task_id": sc.TaskID, "status": sc.Status})
	}

	return envelope.Fail[Map](envelope.CodeRuntimeCorrupt, err.Error(), nil)
}

// invalidInput models InvalidInput{field, reason}.
type invalidInput struct {
	Field  string
	Reason string
}

func (e invalidInput) Error() string { return "invalid input: " + e.Field + ": " + e.Reason }

// notClaimable is returned when claim/force-claim targets a task that is
// not ready or has unverified dependencies.
type notClaimable struct{ TaskID string }

func (e notClaimable) Error() string { return "task " + e.TaskID + " is not claimable" }

// stateConflict is returned for an illegal task status transition, e.g.
// verifying a task not in done outside of complete().
type stateConflict struct{ TaskID, Status string }

func (e stateConflict) Error() string {
	return "task " + e.TaskID + " is in status " + e.Status + "; transition not permitted"
}
