// Package state records what happened to every task on every host during
// a run, so a later pass can diff two runs or roll one back. It supports
// pluggable persistence backends (in-memory, JSON file, bbolt, sqlite).
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// TaskStatus is the terminal (or in-flight) disposition of one task run.
type TaskStatus string

const (
	StatusOk          TaskStatus = "ok"
	StatusChanged     TaskStatus = "changed"
	StatusFailed      TaskStatus = "failed"
	StatusSkipped     TaskStatus = "skipped"
	StatusRunning     TaskStatus = "running"
	StatusPending     TaskStatus = "pending"
	StatusUnreachable TaskStatus = "unreachable"
)

// TaskStateRecord is the full record of one task dispatched to one host.
type TaskStateRecord struct {
	ID               string
	TaskID           string
	TaskName         string
	Host             string
	Module           string
	Args             map[string]interface{}
	Status           TaskStatus
	BeforeState      map[string]interface{}
	AfterState       map[string]interface{}
	StartedAt        time.Time
	CompletedAt      time.Time
	DurationMS       int64
	Error            string
	Output           string
	RollbackAvailable bool
	RollbackInfo     map[string]interface{}
	Tags             []string
	PlayName         string
	RoleName         string
	CheckMode        bool
	Diff             *types.Diff
}

// NewTaskStateRecord starts an in-flight record for taskID/taskName on host.
func NewTaskStateRecord(taskID, taskName, host, module string) *TaskStateRecord {
	return &TaskStateRecord{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		TaskName:  taskName,
		Host:      host,
		Module:    module,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
}

// WithArgs attaches the module arguments as given; it does no redaction
// of its own.
func (r *TaskStateRecord) WithArgs(args map[string]interface{}) *TaskStateRecord {
	r.Args = args
	return r
}

// Complete marks the record finished with status and captures duration.
func (r *TaskStateRecord) Complete(status TaskStatus) *TaskStateRecord {
	r.Status = status
	r.CompletedAt = time.Now()
	r.DurationMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	return r
}

// Fail marks the record failed with the given error text.
func (r *TaskStateRecord) Fail(err string) *TaskStateRecord {
	r.Error = err
	return r.Complete(StatusFailed)
}

// HostState aggregates one host's running totals within a session.
type HostState struct {
	Host               string
	Ok                 int
	Changed            int
	Failed             int
	Skipped            int
	Unreachable        bool
	Facts              map[string]interface{}
	Vars               map[string]interface{}
	LastSuccessfulTask string
	LastError          string
}

// ExecutionStats is the run-wide tally shown in a play recap.
type ExecutionStats struct {
	Ok          int
	Changed     int
	Failed      int
	Skipped     int
	Unreachable int
	Total       int
	DurationMS  int64
}

// IsSuccessful reports whether the run had no failures or unreachable hosts.
func (s ExecutionStats) IsSuccessful() bool { return s.Failed == 0 && s.Unreachable == 0 }

// Merge folds other's counters into s and returns the result.
func (s ExecutionStats) Merge(other ExecutionStats) ExecutionStats {
	return ExecutionStats{
		Ok:          s.Ok + other.Ok,
		Changed:     s.Changed + other.Changed,
		Failed:      s.Failed + other.Failed,
		Skipped:     s.Skipped + other.Skipped,
		Unreachable: s.Unreachable + other.Unreachable,
		Total:       s.Total + other.Total,
		DurationMS:  s.DurationMS + other.DurationMS,
	}
}

// StateSnapshot is a point-in-time capture of a session's full task/host
// history, suitable for persistence and later diffing or rollback.
type StateSnapshot struct {
	ID          string
	SessionID   string
	CreatedAt   time.Time
	Description string
	Playbook    string
	Tasks       []TaskStateRecord
	HostStates  map[string]HostState
	Stats       ExecutionStats
	Metadata    map[string]interface{}
	ParentID    string
}

func (s *StateSnapshot) calculateStats() {
	stats := ExecutionStats{}
	for _, t := range s.Tasks {
		stats.Total++
		switch t.Status {
		case StatusOk:
			stats.Ok++
		case StatusChanged:
			stats.Ok++
			stats.Changed++
		case StatusFailed:
			stats.Failed++
		case StatusSkipped:
			stats.Skipped++
		case StatusUnreachable:
			stats.Unreachable++
		}
		stats.DurationMS += t.DurationMS
	}
	s.Stats = stats
}

// ExecutionSession is the live, in-memory record of one run in progress:
// concurrent task/host maps, a monotonic sequence for ordering, and an
// optional dependency graph for rollback planning.
type ExecutionSession struct {
	ID         string
	Playbook   string
	StartedAt  time.Time
	mu         sync.RWMutex
	tasks      map[string]*TaskStateRecord // keyed "host::taskID"
	hostTasks  map[string][]string         // host -> ordered task keys
	hostStates map[string]*HostState
	sequence   int64
	deps       *DependencyGraph
}

// NewExecutionSession starts a session for the named playbook.
func NewExecutionSession(playbook string) *ExecutionSession {
	return &ExecutionSession{
		ID:         uuid.NewString(),
		Playbook:   playbook,
		StartedAt:  time.Now(),
		tasks:      make(map[string]*TaskStateRecord),
		hostTasks:  make(map[string][]string),
		hostStates: make(map[string]*HostState),
		deps:       NewDependencyGraph(),
	}
}

func taskKey(host, taskID string) string { return host + "::" + taskID }

// RecordTask stores or updates a task record and folds it into the
// owning host's running totals.
func (s *ExecutionSession) RecordTask(record *TaskStateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey(record.Host, record.TaskID)
	if _, exists := s.tasks[key]; !exists {
		s.hostTasks[record.Host] = append(s.hostTasks[record.Host], key)
	}
	s.tasks[key] = record
	s.sequence++

	hs, ok := s.hostStates[record.Host]
	if !ok {
		hs = &HostState{Host: record.Host}
		s.hostStates[record.Host] = hs
	}
	switch record.Status {
	case StatusOk:
		hs.Ok++
		hs.LastSuccessfulTask = record.TaskName
	case StatusChanged:
		hs.Ok++
		hs.Changed++
		hs.LastSuccessfulTask = record.TaskName
	case StatusFailed:
		hs.Failed++
		hs.LastError = record.Error
	case StatusSkipped:
		hs.Skipped++
	case StatusUnreachable:
		hs.Unreachable = true
	}
}

// GetTask returns one task record by host and task ID.
func (s *ExecutionSession) GetTask(host, taskID string) (*TaskStateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tasks[taskKey(host, taskID)]
	return r, ok
}

// GetHostTasks returns every task record for a host, in record order.
func (s *ExecutionSession) GetHostTasks(host string) []TaskStateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.hostTasks[host]
	out := make([]TaskStateRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.tasks[k])
	}
	return out
}

// GetHostState returns a copy of a host's running totals.
func (s *ExecutionSession) GetHostState(host string) (HostState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs, ok := s.hostStates[host]
	if !ok {
		return HostState{}, false
	}
	return *hs, true
}

// GetChangedTasks returns every record across every host whose status is
// Changed, ordered by StartedAt.
func (s *ExecutionSession) GetChangedTasks() []TaskStateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TaskStateRecord
	for _, r := range s.tasks {
		if r.Status == StatusChanged {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Dependencies exposes the session's dependency graph for rollback planning.
func (s *ExecutionSession) Dependencies() *DependencyGraph { return s.deps }

// Stats aggregates ExecutionStats across every recorded task.
func (s *ExecutionSession) Stats() ExecutionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := ExecutionStats{}
	for _, r := range s.tasks {
		stats.Total++
		switch r.Status {
		case StatusOk:
			stats.Ok++
		case StatusChanged:
			stats.Ok++
			stats.Changed++
		case StatusFailed:
			stats.Failed++
		case StatusSkipped:
			stats.Skipped++
		case StatusUnreachable:
			stats.Unreachable++
		}
		stats.DurationMS += r.DurationMS
	}
	return stats
}

// CreateSnapshot captures the session's current state as an immutable
// StateSnapshot, optionally chained to parentID for history navigation.
func (s *ExecutionSession) CreateSnapshot(description, parentID string) *StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskStateRecord, 0, len(s.tasks))
	for _, r := range s.tasks {
		tasks = append(tasks, *r)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].StartedAt.Before(tasks[j].StartedAt) })

	hostStates := make(map[string]HostState, len(s.hostStates))
	for k, v := range s.hostStates {
		hostStates[k] = *v
	}

	snap := &StateSnapshot{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		CreatedAt:   time.Now(),
		Description: description,
		Playbook:    s.Playbook,
		Tasks:       tasks,
		HostStates:  hostStates,
		Metadata:    make(map[string]interface{}),
		ParentID:    parentID,
	}
	snap.calculateStats()
	return snap
}

// Config tunes a Manager's retention, rollback, and persistence behaviour.
type Config struct {
	Backend          string // "memory", "json", "bolt", "sqlite"
	StateDir         string
	EnableRollback   bool
	EnableDependency bool
	MaxSnapshots     int
	RetentionPeriod  time.Duration
	EnableCompression bool
	EnableEncryption bool
}

// DefaultConfig returns the minimal, in-memory configuration suitable for
// ad-hoc runs and tests.
func DefaultConfig() Config {
	return Config{
		Backend:          "memory",
		EnableRollback:   true,
		EnableDependency: true,
		MaxSnapshots:     100,
		RetentionPeriod:  30 * 24 * time.Hour,
	}
}

// ProductionConfig returns a durable configuration with longer retention
// and a higher snapshot ceiling, for long-lived automation hosts.
func ProductionConfig(stateDir string) Config {
	return Config{
		Backend:          "bolt",
		StateDir:         stateDir,
		EnableRollback:   true,
		EnableDependency: true,
		MaxSnapshots:     1000,
		RetentionPeriod:  90 * 24 * time.Hour,
	}
}

// Persistence is the storage contract a Manager delegates snapshot
// durability to. Snapshots are looked up by playbook, not session: every
// run of the same playbook gets a fresh session UUID, so playbook is the
// only stable key a later "diff against the previous run" can use.
type Persistence interface {
	SaveSnapshot(ctx context.Context, snap *StateSnapshot) error
	LoadSnapshot(ctx context.Context, id string) (*StateSnapshot, error)
	// ListSnapshots returns every snapshot recorded for playbook, or every
	// snapshot in the store when playbook is empty.
	ListSnapshots(ctx context.Context, playbook string) ([]*StateSnapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	// CleanupBefore deletes every snapshot created strictly before cutoff,
	// returning how many were removed.
	CleanupBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Manager is the top-level entry point: it owns live sessions and
// delegates snapshot durability to a pluggable Persistence backend.
type Manager struct {
	mu          sync.Mutex
	config      Config
	persistence Persistence
	sessions    map[string]*ExecutionSession
}

// NewManager builds a Manager backed by persistence.
func NewManager(config Config, persistence Persistence) *Manager {
	return &Manager{
		config:      config,
		persistence: persistence,
		sessions:    make(map[string]*ExecutionSession),
	}
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.config }

// StartSession opens a new live session for playbook.
func (m *Manager) StartSession(playbook string) *ExecutionSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := NewExecutionSession(playbook)
	m.sessions[sess.ID] = sess
	return sess
}

// GetSession looks up a live session by ID.
func (m *Manager) GetSession(id string) (*ExecutionSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// EndSession removes a session from the live set after saving a final
// snapshot of it.
func (m *Manager) EndSession(ctx context.Context, id, description string) (*StateSnapshot, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, &types.StateError{Op: "end_session", Message: "session not found: " + id}
	}
	snap := sess.CreateSnapshot(description, "")
	if err := m.persistence.SaveSnapshot(ctx, snap); err != nil {
		return nil, &types.StateError{Op: "end_session", Message: "save final snapshot", Cause: err}
	}
	return snap, nil
}

// SaveSnapshot persists an already-built snapshot, trimming old snapshots
// past MaxSnapshots for the same playbook.
func (m *Manager) SaveSnapshot(ctx context.Context, snap *StateSnapshot) error {
	if err := m.persistence.SaveSnapshot(ctx, snap); err != nil {
		return &types.StateError{Op: "save_snapshot", Message: "persist snapshot", Cause: err}
	}
	return m.cleanupOldSnapshots(ctx, snap.Playbook)
}

// LoadSnapshot retrieves a snapshot by ID.
func (m *Manager) LoadSnapshot(ctx context.Context, id string) (*StateSnapshot, error) {
	snap, err := m.persistence.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, &types.StateError{Op: "load_snapshot", Message: "snapshot not found: " + id, Cause: err}
	}
	return snap, nil
}

// ListSnapshots returns every snapshot recorded for playbook, oldest first.
func (m *Manager) ListSnapshots(ctx context.Context, playbook string) ([]*StateSnapshot, error) {
	snaps, err := m.persistence.ListSnapshots(ctx, playbook)
	if err != nil {
		return nil, &types.StateError{Op: "list_snapshots", Message: "list failed", Cause: err}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps, nil
}

// GetLatestSnapshot returns the most recently created snapshot for playbook,
// the stable key across runs since each run starts a fresh session UUID.
func (m *Manager) GetLatestSnapshot(ctx context.Context, playbook string) (*StateSnapshot, error) {
	snaps, err := m.ListSnapshots(ctx, playbook)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, &types.StateError{Op: "get_latest_snapshot", Message: "no snapshots for playbook " + playbook}
	}
	return snaps[len(snaps)-1], nil
}

func (m *Manager) cleanupOldSnapshots(ctx context.Context, playbook string) error {
	if m.config.MaxSnapshots <= 0 {
		return nil
	}
	snaps, err := m.ListSnapshots(ctx, playbook)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-m.config.RetentionPeriod)
	excess := len(snaps) - m.config.MaxSnapshots
	for i, snap := range snaps {
		tooOld := m.config.RetentionPeriod > 0 && snap.CreatedAt.Before(cutoff)
		tooMany := i < excess
		if tooOld || tooMany {
			if err := m.persistence.DeleteSnapshot(ctx, snap.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// CleanupBefore purges every snapshot across every playbook created before
// cutoff, delegating straight to the persistence backend.
func (m *Manager) CleanupBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := m.persistence.CleanupBefore(ctx, cutoff)
	if err != nil {
		return 0, &types.StateError{Op: "cleanup_before", Message: "cleanup failed", Cause: err}
	}
	return n, nil
}

// Close releases the underlying persistence backend.
func (m *Manager) Close() error { return m.persistence.Close() }
