// Package executor runs a single task against a single host: variable
// rendering, when/changed_when/failed_when/until evaluation, loop
// expansion, connection acquisition, retry wrapping, state recording,
// and callback broadcast.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/gosinble/pkg/callback"
	"github.com/liliang-cn/gosinble/pkg/connection"
	"github.com/liliang-cn/gosinble/pkg/modules"
	"github.com/liliang-cn/gosinble/pkg/retry"
	"github.com/liliang-cn/gosinble/pkg/state"
	"github.com/liliang-cn/gosinble/pkg/template"
	"github.com/liliang-cn/gosinble/pkg/types"
)

// Executor dispatches one task against one host.
type Executor struct {
	Modules   *modules.Registry
	Connect   *connection.ConnectionManager
	Engine    *template.Engine
	Bus       *callback.Bus
	Session   *state.ExecutionSession
	CheckMode bool
	DiffMode  bool
}

// New builds an Executor wired to the default module registry,
// connection manager, and template engine unless overridden.
func New() *Executor {
	return &Executor{
		Modules: modules.DefaultRegistry,
		Connect: connection.DefaultConnectionManager,
		Engine:  template.DefaultEngine,
	}
}

// Run renders and dispatches task against host with vars already layered
// in full precedence order by the caller, returning the ExecutionResult
// that callbacks and state persist.
func (e *Executor) Run(ctx context.Context, task types.Task, host types.Host, connInfo types.ConnectionInfo, vars map[string]interface{}) types.ExecutionResult {
	start := time.Now()
	e.publish(callback.Event{Kind: callback.EventTaskStart, Time: start, Task: &task, Hosts: []types.Host{host}})

	result := e.run(ctx, task, host, connInfo, vars)
	result.Duration = time.Since(start)

	if task.Register != "" {
		result.RegisterName = task.Register
		result.Registered = registeredValue(result)
	}
	if task.NoLog {
		redact(&result)
	}

	if e.Session != nil {
		args := task.Args
		if task.NoLog {
			args = map[string]interface{}{"censored": noLogPlaceholder}
		}
		rec := state.NewTaskStateRecord(task.ID, task.Name, host.Name, task.Module).WithArgs(args)
		status := state.StatusOk
		switch {
		case result.Error != nil:
			status = state.StatusFailed
			rec.Error = result.Error.Error()
		case result.Outcome.Skipped:
			status = state.StatusSkipped
		case result.Outcome.Changed:
			status = state.StatusChanged
		}
		rec.RollbackAvailable = result.Outcome.Diff != nil
		if result.Outcome.Diff != nil {
			rec.AfterState = map[string]interface{}{"content": result.Outcome.Diff.After}
			rec.BeforeState = map[string]interface{}{"content": result.Outcome.Diff.Before}
		}
		rec.Complete(status)
		e.Session.RecordTask(rec)
	}

	e.publish(callback.Event{Kind: callback.EventTaskResult, Time: time.Now(), Task: &task, Hosts: []types.Host{host}, Result: &result})
	return result
}

func (e *Executor) publish(ev callback.Event) {
	if e.Bus != nil {
		e.Bus.Publish(ev)
	}
}

func (e *Executor) run(ctx context.Context, task types.Task, host types.Host, connInfo types.ConnectionInfo, vars map[string]interface{}) types.ExecutionResult {
	res := types.ExecutionResult{Host: host.Name, TaskName: task.Name, TaskID: task.ID, Notify: task.Notify}

	ok, err := e.evalConditions(task.When, vars)
	if err != nil {
		res.Error = err
		return res
	}
	if !ok {
		res.Outcome = types.Outcome{Success: true, Skipped: true, Message: "conditional result was False"}
		return res
	}

	if task.Loop != nil {
		return e.runLoop(ctx, task, host, connInfo, vars)
	}

	outcome, err := e.dispatchWithRetry(ctx, task, host, connInfo, vars)
	res.Outcome = outcome
	res.Error = err
	return res
}

func (e *Executor) runLoop(ctx context.Context, task types.Task, host types.Host, connInfo types.ConnectionInfo, vars map[string]interface{}) types.ExecutionResult {
	loopVar := task.Loop.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}

	var results []map[string]interface{}
	anyChanged := false
	anyFailed := false
	var firstErr error

	for i, item := range task.Loop.Items {
		iterVars := cloneVars(vars)
		iterVars[loopVar] = item
		if task.Loop.IndexVar != "" {
			iterVars[task.Loop.IndexVar] = i
		}

		outcome, err := e.dispatchWithRetry(ctx, task, host, connInfo, iterVars)
		entry := map[string]interface{}{
			"item":    item,
			"changed": outcome.Changed,
			"failed":  err != nil || !outcome.Success,
			"msg":     outcome.Message,
		}
		results = append(results, entry)
		if outcome.Changed {
			anyChanged = true
		}
		if err != nil || !outcome.Success {
			anyFailed = true
			if firstErr == nil {
				firstErr = err
			}
			if !task.IgnoreErrors {
				break
			}
		}
	}

	outcome := types.Outcome{
		Success: !anyFailed,
		Changed: anyChanged,
		Message: fmt.Sprintf("looped over %d items", len(results)),
		Data:    map[string]interface{}{"results": results},
	}
	res := types.ExecutionResult{Host: host.Name, TaskName: task.Name, TaskID: task.ID, Notify: task.Notify, Outcome: outcome}
	if anyFailed && !task.IgnoreErrors {
		res.Error = firstErr
	}
	return res
}

// dispatchWithRetry wraps one (non-loop) task/host dispatch in the retry
// engine, honoring task.Retries/Delay and an Until condition evaluated
// against the attempt's rendered outcome.
func (e *Executor) dispatchWithRetry(ctx context.Context, task types.Task, host types.Host, connInfo types.ConnectionInfo, vars map[string]interface{}) (types.Outcome, error) {
	var last types.Outcome

	policy := retry.NewPolicy(
		retry.WithMaxRetries(task.Retries),
		retry.WithInitialDelay(task.Delay),
		retry.WithBackoff(retry.ConstantBackoff{}),
		retry.WithJitter(retry.NoJitter{}),
	)

	attempt := func(ctx context.Context) error {
		outcome, err := e.dispatchOnce(ctx, task, host, connInfo, vars)
		last = outcome
		if err != nil {
			return err
		}
		if task.Until != "" {
			condVars := cloneVars(vars)
			condVars["result"] = outcome.Data
			satisfied, evalErr := e.evalCondition(task.Until, condVars)
			if evalErr != nil {
				return evalErr
			}
			if !satisfied {
				return &types.TimeoutError{Operation: "until condition", Host: host.Name}
			}
		}
		return nil
	}

	err := retry.Do(ctx, policy, attempt)
	if err != nil && task.IgnoreErrors {
		return last, nil
	}
	return last, err
}

func (e *Executor) dispatchOnce(ctx context.Context, task types.Task, host types.Host, connInfo types.ConnectionInfo, vars map[string]interface{}) (types.Outcome, error) {
	mod, err := e.Modules.Get(task.Module)
	if err != nil {
		return types.Outcome{}, err
	}

	args, err := e.renderArgs(task.Args, vars)
	if err != nil {
		return types.Outcome{}, err
	}
	if err := mod.Validate(args); err != nil {
		return types.Outcome{}, err
	}

	mctx := types.ModuleContext{Host: host.Name, CheckMode: e.CheckMode, DiffMode: e.DiffMode}
	if mod.Classification() != types.LocalLogic {
		conn, err := e.Connect.GetConnection(ctx, connInfo)
		if err != nil {
			return types.Outcome{}, err
		}
		mctx.Connection = conn
	}

	var outcome types.Outcome
	if e.CheckMode {
		outcome, err = mod.Check(ctx, args, mctx)
	} else {
		outcome, err = mod.Execute(ctx, args, mctx)
	}
	if err != nil {
		return outcome, err
	}

	if (e.CheckMode || e.DiffMode) && outcome.Diff == nil {
		if diff, derr := mod.Diff(ctx, args, mctx); derr == nil {
			outcome.Diff = diff
		}
	}

	if task.ChangedWhen != "" {
		changed, cerr := e.evalCondition(task.ChangedWhen, mergeOutcomeVars(vars, outcome))
		if cerr == nil {
			outcome.Changed = changed
		}
	}
	if task.FailedWhen != "" {
		failed, ferr := e.evalCondition(task.FailedWhen, mergeOutcomeVars(vars, outcome))
		if ferr == nil && failed {
			outcome.Success = false
			return outcome, &types.ModuleExecutionError{Module: task.Module, Host: host.Name, Message: "failed_when condition met"}
		}
	}
	if !outcome.Valid() {
		return outcome, &types.ModuleExecutionError{Module: task.Module, Host: host.Name, Message: "module returned an invalid outcome (skipped with changed/failure)"}
	}
	return outcome, nil
}

// registeredValue builds the ansible-style dict a "register:" clause
// binds: changed/failed/msg plus rc/stdout/stderr when the module ran a
// command, and the module's raw data under "data".
func registeredValue(result types.ExecutionResult) map[string]interface{} {
	out := map[string]interface{}{
		"changed": result.Outcome.Changed,
		"failed":  result.Error != nil || !result.Outcome.Success,
		"skipped": result.Outcome.Skipped,
		"msg":     result.Outcome.Message,
		"data":    result.Outcome.Data,
	}
	if result.Outcome.CommandOutput != nil {
		out["rc"] = result.Outcome.CommandOutput.ExitCode
		out["stdout"] = result.Outcome.CommandOutput.Stdout
		out["stderr"] = result.Outcome.CommandOutput.Stderr
	}
	return out
}

const noLogPlaceholder = "(no_log)"

// redact scrubs anything a no_log task would otherwise leak to callbacks,
// state snapshots, or a registered variable.
func redact(result *types.ExecutionResult) {
	result.Outcome.Message = noLogPlaceholder
	result.Outcome.Data = map[string]interface{}{"censored": noLogPlaceholder}
	if result.Outcome.CommandOutput != nil {
		result.Outcome.CommandOutput.Stdout = noLogPlaceholder
		result.Outcome.CommandOutput.Stderr = noLogPlaceholder
	}
	if result.Outcome.Diff != nil {
		result.Outcome.Diff.Before = noLogPlaceholder
		result.Outcome.Diff.After = noLogPlaceholder
	}
	if result.Registered != nil {
		result.Registered = map[string]interface{}{"censored": noLogPlaceholder}
	}
}

func mergeOutcomeVars(vars map[string]interface{}, outcome types.Outcome) map[string]interface{} {
	out := cloneVars(vars)
	out["rc"] = 0
	if outcome.CommandOutput != nil {
		out["rc"] = outcome.CommandOutput.ExitCode
		out["stdout"] = outcome.CommandOutput.Stdout
		out["stderr"] = outcome.CommandOutput.Stderr
	}
	out["result"] = outcome.Data
	return out
}

// evalConditions ANDs every when-clause together (Ansible semantics).
func (e *Executor) evalConditions(conditions []string, vars map[string]interface{}) (bool, error) {
	for _, cond := range conditions {
		ok, err := e.evalCondition(cond, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) evalCondition(expr string, vars map[string]interface{}) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	wrapped := "{{ " + expr + " }}"
	rendered, err := e.Engine.Render(wrapped, vars)
	if err != nil {
		return false, err
	}
	return isTruthy(rendered), nil
}

// isTruthy implements the condition-evaluation truthiness rule: only
// "true", "yes", and "1" (case/whitespace-insensitive) are true, every
// other rendered string - including unrecognized ones - is false.
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// renderArgs walks a module argument map, rendering every string leaf as
// a template against vars; non-string values pass through unchanged.
func (e *Executor) renderArgs(args map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		rendered, err := e.renderValue(v, vars)
		if err != nil {
			return nil, &types.TemplateError{Expression: k, Cause: err}
		}
		out[k] = rendered
	}
	return out, nil
}

func (e *Executor) renderValue(v interface{}, vars map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		if !e.Engine.ContainsExpression(val) {
			return val, nil
		}
		return e.Engine.Render(val, vars)
	case map[string]interface{}:
		return e.renderArgs(val, vars)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			rendered, err := e.renderValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

func cloneVars(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
