package specstore

import (
	"errors"
	"fmt"
)

// ErrSpecMissing is returned when the spec file does not exist.
var ErrSpecMissing = errors.New("specstore: spec file missing")

// ErrLockTimeout is returned when the cross-process spec lock could not be
// acquired within the configured timeout.
var ErrLockTimeout = errors.New("specstore: lock acquisition timed out")

// ErrTaskNotFound is returned by GetTask when the ID is unknown.
var ErrTaskNotFound = errors.New("specstore: task not found")

// MalformedError wraps a YAML decoding failure.
type MalformedError struct {
	Err error
}

func (e MalformedError) Error() string { return fmt.Sprintf("specstore: spec malformed: %v", e.Err) }
func (e MalformedError) Unwrap() error { return e.Err }

// InvariantKind enumerates the closed set of spec invariant violations.
type InvariantKind string

const (
	InvariantCycle       InvariantKind = "cycle"
	InvariantMissingDep  InvariantKind = "missing_dep"
	InvariantDuplicateID InvariantKind = "duplicate_id"
	InvariantBadStatus   InvariantKind = "bad_status"
)

// InvariantError is returned when a mutation would leave the spec in an
// invalid state.
type InvariantError struct {
	Kind    InvariantKind
	Detail  string
	Path    []string // for cycles: the ordered cycle path
	TaskID  string
}

func (e InvariantError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("specstore: invariant violation (%s) on task %s: %s", e.Kind, e.TaskID, e.Detail)
	}
	return fmt.Sprintf("specstore: invariant violation (%s): %s", e.Kind, e.Detail)
}
