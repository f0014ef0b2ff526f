package state

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// RollbackActionStatus is the outcome of undoing one task record.
type RollbackActionStatus string

const (
	RollbackPending RollbackActionStatus = "pending"
	RollbackSuccess RollbackActionStatus = "success"
	RollbackFailed  RollbackActionStatus = "failed"
	RollbackSkipped RollbackActionStatus = "skipped"
)

// RollbackAction undoes one previously recorded task, using the module
// and args captured in RollbackInfo at the time the task changed state.
// Precondition is the forward task's recorded after_state: the Executor
// refuses to run the action if the host's live state no longer matches it.
type RollbackAction struct {
	ID           string
	SourceTaskID string
	Host         string
	Module       string
	Args         map[string]interface{}
	Precondition map[string]interface{}
	Status       RollbackActionStatus
	Error        string
	ExecutedAt   time.Time
}

// RollbackPlan is an ordered list of RollbackActions built from a
// snapshot's changed tasks, in reverse-dependency order.
type RollbackPlan struct {
	ID         string
	SnapshotID string
	Actions    []RollbackAction
	CreatedAt  time.Time
}

// PlanRollback builds a RollbackPlan for every changed, rollback-capable
// task recorded in snap, ordered so dependents are undone before what
// they depend on.
func PlanRollback(snap *StateSnapshot, graph *DependencyGraph) (*RollbackPlan, error) {
	var candidates []TaskStateRecord
	ids := make([]string, 0)
	for _, t := range snap.Tasks {
		if t.Status != StatusChanged || !t.RollbackAvailable {
			continue
		}
		candidates = append(candidates, t)
		ids = append(ids, taskKey(t.Host, t.TaskID))
	}
	if len(candidates) == 0 {
		return nil, &types.RollbackError{Message: "no rollback-capable changed tasks in snapshot " + snap.ID}
	}

	byKey := make(map[string]TaskStateRecord, len(candidates))
	for _, t := range candidates {
		byKey[taskKey(t.Host, t.TaskID)] = t
	}

	order := ids
	if graph != nil {
		order = graph.ReverseRollbackOrder(ids)
	}

	plan := &RollbackPlan{ID: uuid.NewString(), SnapshotID: snap.ID, CreatedAt: time.Now()}
	for _, key := range order {
		t, ok := byKey[key]
		if !ok {
			continue
		}
		plan.Actions = append(plan.Actions, RollbackAction{
			ID:           uuid.NewString(),
			SourceTaskID: t.TaskID,
			Host:         t.Host,
			Module:       t.Module,
			Args:         t.RollbackInfo,
			Precondition: t.AfterState,
			Status:       RollbackPending,
		})
	}
	return plan, nil
}

// ModuleRunner is the narrow contract the rollback executor needs from
// the module/connection layer: run a named module's Execute against a
// host's connection, and check its current Diff without changing anything
// so the Executor can compare live state to an action's Precondition.
type ModuleRunner interface {
	RunModule(ctx context.Context, moduleName string, args map[string]interface{}, host string) (types.Outcome, error)
	CheckModule(ctx context.Context, moduleName string, args map[string]interface{}, host string) (*types.Diff, error)
}

// Executor replays a RollbackPlan's actions in order. A host whose action
// fails or whose precondition no longer holds has its remaining actions
// skipped; other hosts' chains continue regardless, since rollback chains
// are independent per host.
type Executor struct {
	runner      ModuleRunner
	Session     *ExecutionSession
	StopOnError bool
}

// NewExecutor builds a rollback executor that dispatches module
// invocations through runner. If session is non-nil, every action gets a
// "rollback::"-prefixed TaskStateRecord recorded against it.
func NewExecutor(runner ModuleRunner, session *ExecutionSession) *Executor {
	return &Executor{runner: runner, Session: session, StopOnError: true}
}

// preconditionHolds reports whether the live diff's Before state still
// matches what the forward task recorded as its after_state. An action
// with no recorded precondition is always eligible to run.
func preconditionHolds(want map[string]interface{}, diff *types.Diff) bool {
	if len(want) == 0 {
		return true
	}
	if diff == nil {
		return false
	}
	content, ok := want["content"]
	if !ok {
		return true
	}
	wantStr, ok := content.(string)
	if !ok {
		return true
	}
	return diff.Before == wantStr
}

func (e *Executor) recordAction(action *RollbackAction, outcome *types.Outcome) {
	if e.Session == nil {
		return
	}
	rec := NewTaskStateRecord("rollback::"+action.SourceTaskID, "rollback "+action.Module, action.Host, action.Module).
		WithArgs(action.Args)
	switch action.Status {
	case RollbackSuccess:
		status := StatusOk
		if outcome != nil && outcome.Changed {
			status = StatusChanged
		}
		e.Session.RecordTask(rec.Complete(status))
	case RollbackFailed:
		e.Session.RecordTask(rec.Fail(action.Error))
	case RollbackSkipped:
		e.Session.RecordTask(rec.Complete(StatusSkipped))
	}
}

// Execute runs every action in plan, mutating each action's Status/Error
// in place, and returns the first error encountered (nil if no action
// failed; actions skipped for a missing module or args are not failures).
func (e *Executor) Execute(ctx context.Context, plan *RollbackPlan) error {
	var firstErr error
	failed := make(map[string]bool)

	for i := range plan.Actions {
		action := &plan.Actions[i]
		if failed[action.Host] && e.StopOnError {
			action.Status = RollbackSkipped
			e.recordAction(action, nil)
			continue
		}
		if action.Module == "" || action.Args == nil {
			action.Status = RollbackSkipped
			e.recordAction(action, nil)
			continue
		}

		diff, err := e.runner.CheckModule(ctx, action.Module, action.Args, action.Host)
		if err != nil {
			action.Status = RollbackFailed
			action.Error = "precondition check failed: " + err.Error()
			failed[action.Host] = true
			if firstErr == nil {
				firstErr = &types.RollbackError{TaskID: action.SourceTaskID, Message: action.Error, Cause: err}
			}
			e.recordAction(action, nil)
			continue
		}
		if !preconditionHolds(action.Precondition, diff) {
			action.Status = RollbackFailed
			action.Error = "precondition mismatch: host state no longer matches the recorded after_state"
			failed[action.Host] = true
			if firstErr == nil {
				firstErr = &types.RollbackError{TaskID: action.SourceTaskID, Message: action.Error}
			}
			e.recordAction(action, nil)
			continue
		}

		outcome, err := e.runner.RunModule(ctx, action.Module, action.Args, action.Host)
		action.ExecutedAt = time.Now()
		if err != nil {
			action.Status = RollbackFailed
			action.Error = err.Error()
			failed[action.Host] = true
			if firstErr == nil {
				firstErr = &types.RollbackError{TaskID: action.SourceTaskID, Message: "rollback action failed", Cause: err}
			}
			e.recordAction(action, &outcome)
			continue
		}
		action.Status = RollbackSuccess
		e.recordAction(action, &outcome)
	}
	return firstErr
}
