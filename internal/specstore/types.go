package specstore

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDone     Status = "done"
	StatusVerified Status = "verified"
	StatusDeleted  Status = "deleted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusDone, StatusVerified, StatusDeleted:
		return true
	default:
		return false
	}
}

// Project is the committed project descriptor. It carries no behavior.
type Project struct {
	Name          string `yaml:"name"`
	DefaultBranch string `yaml:"default_branch"`
}

// PRDRef points at a section of an external PRD document.
type PRDRef struct {
	Anchor string `yaml:"anchor"`
	Lines  []int  `yaml:"lines,omitempty"`
}

// PRDBinding is a task's optional link to a frozen excerpt of a PRD document.
type PRDBinding struct {
	Source  string   `yaml:"source,omitempty"`
	Refs    []PRDRef `yaml:"refs,omitempty"`
	Excerpt string   `yaml:"excerpt,omitempty"`
	Hash    string   `yaml:"hash,omitempty"`
}

func (b PRDBinding) IsZero() bool {
	return b.Source == "" && len(b.Refs) == 0 && b.Excerpt == "" && b.Hash == ""
}

// Task is a unit of work in the committed spec plane.
type Task struct {
	ID                  string     `yaml:"id"`
	Title               string     `yaml:"title"`
	Description         string     `yaml:"description,omitempty"`
	AcceptanceCriteria  string     `yaml:"acceptance_criteria,omitempty"`
	Status              Status     `yaml:"status"`
	Priority            int        `yaml:"priority"`
	Labels              []string   `yaml:"labels,omitempty"`
	DependsOn           []string   `yaml:"depends_on,omitempty"`
	Locks               []string   `yaml:"locks,omitempty"`
	CreatedAt           string     `yaml:"created_at"`
	UpdatedAt           string     `yaml:"updated_at"`
	PRD                 PRDBinding `yaml:"prd,omitempty"`
}

// Spec is the full committed document: project metadata plus a task map keyed
// by task ID. TaskOrder preserves the insertion order read from disk, which
// the DAG analyzer relies on for deterministic cycle reporting.
type Spec struct {
	Project Project         `yaml:"project"`
	Tasks   map[string]Task `yaml:"tasks"`

	// TaskOrder is not serialized; it is derived on Load and maintained on
	// every mutating call so iteration order matches the document's
	// original key order (round-trip stability) and insertion order for
	// newly created tasks.
	TaskOrder []string `yaml:"-"`
}

// OrderedTasks returns the spec's tasks in TaskOrder, skipping any ID present
// in TaskOrder but no longer in the map (defensive; should not happen).
func (s Spec) OrderedTasks() []Task {
	out := make([]Task, 0, len(s.TaskOrder))
	for _, id := range s.TaskOrder {
		if t, ok := s.Tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}
