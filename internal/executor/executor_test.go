package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/gosinble/pkg/modules"
	"github.com/liliang-cn/gosinble/pkg/types"
)

func TestIsTruthyRecognizesOnlyTrueYesOne(t *testing.T) {
	for _, s := range []string{"true", "True", " TRUE ", "yes", "Yes", "1"} {
		assert.True(t, isTruthy(s), "expected %q to be truthy", s)
	}
}

func TestIsTruthyDefaultsUnrecognizedToFalse(t *testing.T) {
	for _, s := range []string{"false", "no", "0", "maybe", "on", "enabled", ""} {
		assert.False(t, isTruthy(s), "expected %q to be falsy", s)
	}
}

// diffModule is a minimal LocalLogic module that reports a diff whenever
// asked, used to exercise dispatchOnce's check/diff-mode wiring without
// pulling in a real connection.
type diffModule struct {
	diffCalls int
}

func (m *diffModule) Name() string                        { return "difftest" }
func (m *diffModule) Classification() types.Classification { return types.LocalLogic }
func (m *diffModule) ParallelizationHint() types.ParallelizationHint {
	return types.FullyParallel
}
func (m *diffModule) RequiredParams() []string                        { return nil }
func (m *diffModule) Validate(params map[string]interface{}) error    { return nil }
func (m *diffModule) Execute(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	return types.Outcome{Success: true, Changed: true, Message: "would change"}, nil
}
func (m *diffModule) Check(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	return m.Execute(ctx, params, mctx)
}
func (m *diffModule) Diff(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (*types.Diff, error) {
	m.diffCalls++
	return &types.Diff{Before: "old", After: "new"}, nil
}

func newTestExecutor(mod types.Module) *Executor {
	reg := modules.NewRegistry()
	reg.Register(mod)
	e := New()
	e.Modules = reg
	return e
}

func TestDispatchOnceCallsDiffInCheckMode(t *testing.T) {
	mod := &diffModule{}
	e := newTestExecutor(mod)
	e.CheckMode = true

	task := types.Task{ID: "t1", Module: "difftest"}
	outcome, err := e.dispatchOnce(context.Background(), task, types.Host{Name: "h1"}, types.ConnectionInfo{}, map[string]interface{}{})
	require.NoError(t, err)
	require.NotNil(t, outcome.Diff)
	assert.Equal(t, "old", outcome.Diff.Before)
	assert.Equal(t, "new", outcome.Diff.After)
	assert.Equal(t, 1, mod.diffCalls)
}

func TestDispatchOnceCallsDiffInDiffModeWithoutCheckMode(t *testing.T) {
	mod := &diffModule{}
	e := newTestExecutor(mod)
	e.DiffMode = true

	task := types.Task{ID: "t1", Module: "difftest"}
	outcome, err := e.dispatchOnce(context.Background(), task, types.Host{Name: "h1"}, types.ConnectionInfo{}, map[string]interface{}{})
	require.NoError(t, err)
	require.NotNil(t, outcome.Diff)
	assert.Equal(t, 1, mod.diffCalls)
}

func TestDispatchOnceSkipsDiffWhenNeitherModeSet(t *testing.T) {
	mod := &diffModule{}
	e := newTestExecutor(mod)

	task := types.Task{ID: "t1", Module: "difftest"}
	outcome, err := e.dispatchOnce(context.Background(), task, types.Host{Name: "h1"}, types.ConnectionInfo{}, map[string]interface{}{})
	require.NoError(t, err)
	assert.Nil(t, outcome.Diff)
	assert.Equal(t, 0, mod.diffCalls)
}
