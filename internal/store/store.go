package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a lookup by primary key matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned when an insert would violate a uniqueness
// constraint (e.g. registering an agent ID that is already registered).
var ErrAlreadyExists = errors.New("store: already exists")

// Store wraps the runtime database connection.
type Store struct {
	DB *sql.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal json: %w", err)
	}
	return string(b), nil
}

// --- Agents ---

// InsertAgent registers a new agent inside tx.
func (s Store) InsertAgent(ctx context.Context, tx *sql.Tx, a Agent) error {
	capsJSON, err := marshalJSON(a.Capabilities)
	if err != nil {
		return err
	}
	metaJSON, err := marshalJSON(a.SessionMeta)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO agents(agent_id,display_name,role,capabilities_json,registered_at,last_seen_at,session_meta_json) VALUES (?,?,?,?,?,?,?)`,
		a.AgentID, nullable(a.DisplayName), nullable(a.Role), capsJSON, a.RegisteredAt, a.LastSeenAt, metaJSON)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed") {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func scanAgent(row interface {
	Scan(dest ...any) error
}) (Agent, error) {
	var a Agent
	var displayName, role sql.NullString
	var capsJSON, metaJSON string
	err := row.Scan(&a.AgentID, &displayName, &role, &capsJSON, &a.RegisteredAt, &a.LastSeenAt, &metaJSON)
	if err == sql.ErrNoRows {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, err
	}
	a.DisplayName = displayName.String
	a.Role = role.String
	_ = json.Unmarshal([]byte(capsJSON), &a.Capabilities)
	_ = json.Unmarshal([]byte(metaJSON), &a.SessionMeta)
	return a, nil
}

const agentColumns = `agent_id,display_name,role,capabilities_json,registered_at,last_seen_at,session_meta_json`

// GetAgent returns a single agent by ID.
func (s Store) GetAgent(ctx context.Context, id string) (Agent, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id=?`, id)
	return scanAgent(row)
}

// ListAgents returns every registered agent ordered by registration time.
func (s Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchAgent updates last_seen_at for a heartbeat.
func (s Store) TouchAgent(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET last_seen_at=? WHERE agent_id=?`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent record (a "leave"). Leases are left in place
// for orphan cleanup to reconcile.
func (s Store) DeleteAgent(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE agent_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Leases ---

func scanLease(row interface {
	Scan(dest ...any) error
}) (Lease, error) {
	var l Lease
	err := row.Scan(&l.LeaseID, &l.TaskID, &l.AgentID, &l.CreatedAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return Lease{}, ErrNotFound
	}
	return l, err
}

const leaseColumns = `lease_id,task_id,agent_id,created_at,expires_at`

// InsertLease creates a new lease row inside tx.
func (s Store) InsertLease(ctx context.Context, tx *sql.Tx, l Lease) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leases(`+leaseColumns+`) VALUES (?,?,?,?,?)`,
		l.LeaseID, l.TaskID, l.AgentID, l.CreatedAt, l.ExpiresAt)
	return err
}

// ActiveLease returns the lease for taskID whose expires_at is after now, if
// any. At most one row can ever satisfy this per the runtime invariant
// enforced by the lease engine.
func (s Store) ActiveLease(ctx context.Context, tx *sql.Tx, taskID, now string) (Lease, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE task_id=? AND expires_at>? ORDER BY created_at DESC LIMIT 1`, taskID, now)
	l, err := scanLease(row)
	if errors.Is(err, ErrNotFound) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, err
	}
	return l, true, nil
}

// GetLease returns a lease by ID regardless of activity.
func (s Store) GetLease(ctx context.Context, tx *sql.Tx, leaseID string) (Lease, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE lease_id=?`, leaseID)
	return scanLease(row)
}

// SetLeaseExpiry updates a lease's expires_at, used by Renew/Release/orphan
// cleanup.
func (s Store) SetLeaseExpiry(ctx context.Context, tx *sql.Tx, leaseID, expiresAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE leases SET expires_at=? WHERE lease_id=?`, expiresAt, leaseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveLeasesForAgent returns every lease held by agentID that is active at
// now.
func (s Store) ActiveLeasesForAgent(ctx context.Context, tx *sql.Tx, agentID, now string) ([]Lease, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE agent_id=? AND expires_at>?`, agentID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// OrphanLeases returns active leases whose agent_id no longer has an agents
// row, for startup reconciliation.
func (s Store) OrphanLeases(ctx context.Context, tx *sql.Tx, now string) ([]Lease, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE expires_at>? AND agent_id NOT IN (SELECT agent_id FROM agents)`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ActiveLeaseTaskIDs returns the set of task IDs with an active lease at now,
// used by the scheduler to subtract claimed tasks.
func (s Store) ActiveLeaseTaskIDs(ctx context.Context, now string) (map[string]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT task_id FROM leases WHERE expires_at>?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// --- Messages ---

// MessageFilters narrows a List call with an AND-composed WHERE clause,
// mirroring the dynamic filter-builder idiom used for task queries.
type MessageFilters struct {
	ToType    string
	ToID      string
	TaskID    string
	FromAgent string
	Unread    bool
	Since     string
	Until     string
	Cursor    int64
	Limit     int
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (Message, error) {
	var m Message
	var taskID, subject, severity, readAt sql.NullString
	err := row.Scan(&m.MessageID, &m.CreatedAt, &m.FromAgentID, &m.ToType, &m.ToID, &taskID, &subject, &m.Body, &severity, &readAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	m.TaskID = taskID.String
	m.Subject = subject.String
	m.Severity = severity.String
	m.ReadAt = readAt.String
	return m, nil
}

const messageColumns = `message_id,created_at,from_agent_id,to_type,to_id,task_id,subject,body,severity,read_at`

// InsertMessage creates a message inside tx and returns its generated ID.
func (s Store) InsertMessage(ctx context.Context, tx *sql.Tx, m Message) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO messages(created_at,from_agent_id,to_type,to_id,task_id,subject,body,severity,read_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		m.CreatedAt, m.FromAgentID, m.ToType, m.ToID, nullable(m.TaskID), nullable(m.Subject), m.Body, nullable(m.Severity), nullable(m.ReadAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListMessages returns messages matching f, newest-first, honoring a cursor
// (message_id < cursor) for pagination.
func (s Store) ListMessages(ctx context.Context, f MessageFilters) ([]Message, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ToType != "" {
		clauses = append(clauses, "to_type=?")
		args = append(args, f.ToType)
	}
	if f.ToID != "" {
		clauses = append(clauses, "to_id=?")
		args = append(args, f.ToID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.FromAgent != "" {
		clauses = append(clauses, "from_agent_id=?")
		args = append(args, f.FromAgent)
	}
	if f.Unread {
		clauses = append(clauses, "read_at IS NULL")
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.Until)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "message_id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY message_id DESC LIMIT ?`, messageColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage returns a single message by ID.
func (s Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id=?`, id)
	return scanMessage(row)
}

// Thread returns every message addressed to taskID's thread (to_type "task",
// to_id taskID), oldest first.
func (s Store) Thread(ctx context.Context, taskID string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE to_type='task' AND to_id=? ORDER BY message_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchFilters narrows Search; at least one of Keyword/FromAgent/Since/
// Until must be set by the caller (enforced by the messaging package).
type SearchFilters struct {
	Keyword   string
	FromAgent string
	Since     string
	Until     string
	Limit     int
}

// SearchMessages performs a case-insensitive substring match over subject
// and body, additionally narrowed by sender and time range.
func (s Store) SearchMessages(ctx context.Context, f SearchFilters) ([]Message, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Keyword != "" {
		like := "%" + strings.ToLower(f.Keyword) + "%"
		clauses = append(clauses, "(LOWER(body) LIKE ? OR LOWER(COALESCE(subject,'')) LIKE ?)")
		args = append(args, like, like)
	}
	if f.FromAgent != "" {
		clauses = append(clauses, "from_agent_id=?")
		args = append(args, f.FromAgent)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.Until)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY message_id DESC LIMIT ?`, messageColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AckMessage marks a message read.
func (s Store) AckMessage(ctx context.Context, tx *sql.Tx, id int64, readAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE messages SET read_at=? WHERE message_id=?`, readAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Events ---

// AppendEvent appends an event row inside tx.
func (s Store) AppendEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	payloadJSON, err := marshalJSON(e.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(created_at,type,actor_agent_id,task_id,target_agent_id,payload_json) VALUES (?,?,?,?,?,?)`,
		e.CreatedAt, e.Type, nullable(e.ActorAgentID), nullable(e.TaskID), nullable(e.TargetAgentID), payloadJSON)
	return err
}

func scanEvent(row interface {
	Scan(dest ...any) error
}) (Event, error) {
	var e Event
	var actor, taskID, target sql.NullString
	var payloadJSON string
	err := row.Scan(&e.ID, &e.CreatedAt, &e.Type, &actor, &taskID, &target, &payloadJSON)
	if err == sql.ErrNoRows {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, err
	}
	e.ActorAgentID = actor.String
	e.TaskID = taskID.String
	e.TargetAgentID = target.String
	_ = json.Unmarshal([]byte(payloadJSON), &e.Payload)
	return e, nil
}

const eventColumns = `id,created_at,type,actor_agent_id,task_id,target_agent_id,payload_json`

// PullEvents returns events with id > sinceCursor, ascending, optionally
// filtered to a set of types, capped at limit.
func (s Store) PullEvents(ctx context.Context, sinceCursor int64, limit int, types []string) ([]Event, error) {
	clauses := []string{"id>?"}
	args := []any{sinceCursor}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, "type IN ("+strings.Join(placeholders, ",")+")")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID returns the highest event ID recorded, or 0 if none.
func (s Store) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
