package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// fakeRunner implements ModuleRunner for rollback tests. RunModule fails
// for any host listed in failHosts; CheckModule reports the live content
// recorded in current, simulating a module's Diff().
type fakeRunner struct {
	current    map[string]string // host -> live content
	failHosts  map[string]bool
	runCalls   []string
	checkCalls []string
}

func (r *fakeRunner) RunModule(ctx context.Context, moduleName string, args map[string]interface{}, host string) (types.Outcome, error) {
	r.runCalls = append(r.runCalls, host)
	if r.failHosts[host] {
		return types.Outcome{}, errors.New("rollback apply failed")
	}
	return types.Outcome{Success: true, Changed: true}, nil
}

func (r *fakeRunner) CheckModule(ctx context.Context, moduleName string, args map[string]interface{}, host string) (*types.Diff, error) {
	r.checkCalls = append(r.checkCalls, host)
	return &types.Diff{Before: r.current[host]}, nil
}

func planWith(actions ...RollbackAction) *RollbackPlan {
	return &RollbackPlan{ID: "plan1", SnapshotID: "snap1", Actions: actions}
}

func TestExecutorFailureOnOneHostDoesNotSkipAnotherHost(t *testing.T) {
	runner := &fakeRunner{
		current:   map[string]string{"web1": "old", "web2": "old"},
		failHosts: map[string]bool{"web1": true},
	}
	plan := planWith(
		RollbackAction{ID: "a1", SourceTaskID: "t1", Host: "web1", Module: "copy", Args: map[string]interface{}{"dest": "/x"}, Precondition: map[string]interface{}{"content": "old"}},
		RollbackAction{ID: "a2", SourceTaskID: "t1", Host: "web1", Module: "copy", Args: map[string]interface{}{"dest": "/y"}, Precondition: map[string]interface{}{"content": "old"}},
		RollbackAction{ID: "a3", SourceTaskID: "t2", Host: "web2", Module: "copy", Args: map[string]interface{}{"dest": "/z"}, Precondition: map[string]interface{}{"content": "old"}},
	)
	exec := NewExecutor(runner, nil)
	exec.StopOnError = true

	err := exec.Execute(context.Background(), plan)
	require.Error(t, err)

	assert.Equal(t, RollbackFailed, plan.Actions[0].Status)
	assert.Equal(t, RollbackSkipped, plan.Actions[1].Status, "second action on the same failed host must be skipped")
	assert.Equal(t, RollbackSuccess, plan.Actions[2].Status, "web2's chain must run even though web1 failed")
}

func TestExecutorPreconditionMismatchFailsWithoutRunning(t *testing.T) {
	runner := &fakeRunner{current: map[string]string{"web1": "changed-elsewhere"}}
	plan := planWith(RollbackAction{
		ID: "a1", SourceTaskID: "t1", Host: "web1", Module: "copy",
		Args:         map[string]interface{}{"dest": "/x"},
		Precondition: map[string]interface{}{"content": "expected-old"},
	})
	exec := NewExecutor(runner, nil)

	err := exec.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, RollbackFailed, plan.Actions[0].Status)
	assert.Contains(t, plan.Actions[0].Error, "precondition mismatch")
	assert.Empty(t, runner.runCalls, "RunModule must not be called when the precondition fails")
}

func TestExecutorPreconditionMatchAllowsRun(t *testing.T) {
	runner := &fakeRunner{current: map[string]string{"web1": "expected-old"}}
	plan := planWith(RollbackAction{
		ID: "a1", SourceTaskID: "t1", Host: "web1", Module: "copy",
		Args:         map[string]interface{}{"dest": "/x"},
		Precondition: map[string]interface{}{"content": "expected-old"},
	})
	exec := NewExecutor(runner, nil)

	err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, RollbackSuccess, plan.Actions[0].Status)
	assert.Equal(t, []string{"web1"}, runner.runCalls)
}

func TestExecutorRecordsRollbackPrefixedTaskStateRecordsOnSession(t *testing.T) {
	runner := &fakeRunner{current: map[string]string{"web1": "old"}}
	session := NewExecutionSession("site.yml")
	plan := planWith(RollbackAction{
		ID: "a1", SourceTaskID: "t1", Host: "web1", Module: "copy",
		Args:         map[string]interface{}{"dest": "/x"},
		Precondition: map[string]interface{}{"content": "old"},
	})
	exec := NewExecutor(runner, session)

	require.NoError(t, exec.Execute(context.Background(), plan))

	rec, ok := session.GetTask("web1", "rollback::t1")
	require.True(t, ok)
	assert.Equal(t, StatusChanged, rec.Status)
}

func TestPlanRollbackCarriesAfterStateAsPrecondition(t *testing.T) {
	snap := &StateSnapshot{
		ID: "snap1",
		Tasks: []TaskStateRecord{
			{
				TaskID: "t1", Host: "web1", Module: "copy", Status: StatusChanged,
				RollbackAvailable: true,
				RollbackInfo:      map[string]interface{}{"dest": "/x", "content": "old"},
				AfterState:        map[string]interface{}{"content": "new"},
			},
		},
	}
	plan, err := PlanRollback(snap, NewDependencyGraph())
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "new", plan.Actions[0].Precondition["content"])
}

func TestExecutorWithoutPreconditionAlwaysRuns(t *testing.T) {
	runner := &fakeRunner{current: map[string]string{"web1": "whatever"}}
	plan := planWith(RollbackAction{
		ID: "a1", SourceTaskID: "t1", Host: "web1", Module: "copy",
		Args: map[string]interface{}{"dest": "/x"},
	})
	exec := NewExecutor(runner, nil)

	require.NoError(t, exec.Execute(context.Background(), plan))
	assert.Equal(t, RollbackSuccess, plan.Actions[0].Status)
}
