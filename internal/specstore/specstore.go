// Package specstore loads, validates, and atomically rewrites the committed
// YAML task spec under an exclusive cross-process file lock.
package specstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/dag"
)

// DefaultLockTimeout matches spec.md's stated default of 5s.
const DefaultLockTimeout = 5 * time.Second

// Store owns reads and writes of the committed spec file.
type Store struct {
	Path        string
	LockPath    string
	Clock       clock.Clock
	LockTimeout time.Duration
}

// New returns a Store rooted at specPath, locking via lockPath.
func New(specPath, lockPath string, c clock.Clock) *Store {
	return &Store{Path: specPath, LockPath: lockPath, Clock: c, LockTimeout: DefaultLockTimeout}
}

// Load reads the spec from disk. Because a concurrent writer replaces the
// file via rename, a read can race an in-flight rename; Load retries once on
// a transient read error (consistent with spec.md's "open-then-read, retry
// once on read error" read-path guarantee).
func (s *Store) Load() (Spec, error) {
	data, err := s.readWithRetry()
	if err != nil {
		return Spec{}, err
	}
	return decode(data)
}

func (s *Store) readWithRetry() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSpecMissing
		}
		// retry once: a concurrent rename may have made the file
		// momentarily unreadable.
		data2, err2 := os.ReadFile(s.Path)
		if err2 != nil {
			if os.IsNotExist(err2) {
				return nil, ErrSpecMissing
			}
			return nil, err
		}
		return data2, nil
	}
	return data, nil
}

func decode(data []byte) (Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&spec); err != nil {
		if err == io.EOF {
			return Spec{Tasks: map[string]Task{}}, nil
		}
		return Spec{}, MalformedError{Err: err}
	}
	if spec.Tasks == nil {
		spec.Tasks = map[string]Task{}
	}
	spec.TaskOrder = orderFromRaw(data, spec.Tasks)
	return spec, nil
}

// orderFromRaw re-decodes the tasks map as an ordered yaml.Node to recover
// the on-disk key order, since Go maps do not preserve it.
func orderFromRaw(data []byte, tasks map[string]Task) []string {
	var doc struct {
		Tasks yaml.Node `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil || doc.Tasks.Kind != yaml.MappingNode {
		return sortedFallback(tasks)
	}
	order := make([]string, 0, len(doc.Tasks.Content)/2)
	for i := 0; i+1 < len(doc.Tasks.Content); i += 2 {
		id := doc.Tasks.Content[i].Value
		if _, ok := tasks[id]; ok {
			order = append(order, id)
		}
	}
	return order
}

func sortedFallback(tasks map[string]Task) []string {
	order := make([]string, 0, len(tasks))
	for id := range tasks {
		order = append(order, id)
	}
	return order
}

// Save performs the full write sequence from spec.md §4.C: acquire the
// cross-process lock, re-read the current on-disk spec, apply mutate to an
// in-memory copy, validate, atomically replace the file, release the lock.
func (s *Store) Save(ctx context.Context, mutate func(*Spec) error) (Spec, error) {
	fl := flock.New(s.LockPath)
	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, 20*time.Millisecond)
	if err != nil || !locked {
		return Spec{}, ErrLockTimeout
	}
	defer fl.Unlock()

	spec, err := s.Load()
	if err != nil && err != ErrSpecMissing {
		return Spec{}, err
	}
	if err == ErrSpecMissing {
		spec = Spec{Tasks: map[string]Task{}}
	}

	if err := mutate(&spec); err != nil {
		return Spec{}, err
	}

	if err := Validate(spec); err != nil {
		return Spec{}, err
	}

	if err := atomicWrite(s.Path, spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// atomicWrite serializes spec to YAML and replaces path via write-to-temp +
// fsync + rename on the same filesystem, so a reader never observes a
// partial write.
func atomicWrite(path string, spec Spec) error {
	ordered := buildOrderedDocument(spec)
	content, err := yaml.Marshal(ordered)
	if err != nil {
		return fmt.Errorf("specstore: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".spec-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("specstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("specstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("specstore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("specstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("specstore: atomic rename: %w", err)
	}
	return nil
}

// orderedDoc mirrors Spec but with Tasks as an explicit ordered mapping node
// so writes round-trip key order instead of Go's randomized map iteration.
type orderedDoc struct {
	Project Project   `yaml:"project"`
	Tasks   yaml.Node `yaml:"tasks"`
}

func buildOrderedDocument(spec Spec) orderedDoc {
	node := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	ids := spec.TaskOrder
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for id := range spec.Tasks {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		t, ok := spec.Tasks[id]
		if !ok {
			continue
		}
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: id}
		var valNode yaml.Node
		b, _ := yaml.Marshal(t)
		_ = yaml.Unmarshal(b, &valNode)
		valueNode := &valNode
		if valNode.Kind == yaml.DocumentNode && len(valNode.Content) > 0 {
			valueNode = valNode.Content[0]
		}
		node.Content = append(node.Content, keyNode, valueNode)
	}
	return orderedDoc{Project: spec.Project, Tasks: node}
}

// Validate runs every invariant from spec.md §3.1 over an in-memory spec.
func Validate(spec Spec) error {
	nodes := toNodes(spec)

	if path, found := dag.DetectCycle(nodes); found {
		return InvariantError{Kind: InvariantCycle, Detail: "dependency cycle", Path: path}
	}
	for _, md := range dag.MissingDeps(nodes, string(StatusDeleted)) {
		return InvariantError{
			Kind:   InvariantMissingDep,
			TaskID: md.TaskID,
			Detail: fmt.Sprintf("depends_on references %s task %q", md.Reason, md.DepID),
		}
	}
	for id, t := range spec.Tasks {
		if id != t.ID {
			return InvariantError{Kind: InvariantDuplicateID, TaskID: id, Detail: "task map key does not match task.id"}
		}
		if !t.Status.Valid() {
			return InvariantError{Kind: InvariantBadStatus, TaskID: id, Detail: fmt.Sprintf("unknown status %q", t.Status)}
		}
	}
	return nil
}

func toNodes(spec Spec) []dag.Node {
	nodes := make([]dag.Node, 0, len(spec.Tasks))
	for _, t := range spec.OrderedTasks() {
		nodes = append(nodes, dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn})
	}
	// include tasks missed by TaskOrder defensively (should not happen after Load)
	seen := map[string]bool{}
	for _, n := range nodes {
		seen[n.ID] = true
	}
	for id, t := range spec.Tasks {
		if !seen[id] {
			nodes = append(nodes, dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn})
		}
	}
	return nodes
}

// GetTask returns a single task by ID from the given spec snapshot.
func GetTask(spec Spec, id string) (Task, error) {
	t, ok := spec.Tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

// UpsertTask inserts or replaces a task in spec, preserving insertion order
// for new IDs.
func UpsertTask(spec *Spec, t Task) {
	if spec.Tasks == nil {
		spec.Tasks = map[string]Task{}
	}
	if _, exists := spec.Tasks[t.ID]; !exists {
		spec.TaskOrder = append(spec.TaskOrder, t.ID)
	}
	spec.Tasks[t.ID] = t
}

// SetStatus transitions a task's status in place.
func SetStatus(spec *Spec, id string, status Status, now string) error {
	t, ok := spec.Tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	t.UpdatedAt = now
	spec.Tasks[id] = t
	return nil
}

// SoftDeleteTask tombstones a task. If the task has live (non-deleted)
// dependents, the call fails unless cascade is set, in which case every
// transitive dependent is also tombstoned.
func SoftDeleteTask(spec *Spec, id string, cascade bool, now string) ([]string, error) {
	if _, ok := spec.Tasks[id]; !ok {
		return nil, ErrTaskNotFound
	}
	nodes := toNodes(*spec)
	dependents := dag.TransitiveDependentsOf(nodes, id)
	live := make([]string, 0, len(dependents))
	for _, d := range dependents {
		if spec.Tasks[d].Status != StatusDeleted {
			live = append(live, d)
		}
	}
	if len(live) > 0 && !cascade {
		return nil, InvariantError{
			Kind:   InvariantBadStatus,
			TaskID: id,
			Detail: fmt.Sprintf("task has %d live dependent(s); delete with cascade to remove them too", len(live)),
		}
	}
	deleted := []string{id}
	if err := SetStatus(spec, id, StatusDeleted, now); err != nil {
		return nil, err
	}
	if cascade {
		for _, d := range live {
			if err := SetStatus(spec, d, StatusDeleted, now); err != nil {
				return nil, err
			}
			deleted = append(deleted, d)
		}
	}
	return deleted, nil
}
