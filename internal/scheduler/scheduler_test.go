package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/gosinble/internal/executor"
	"github.com/liliang-cn/gosinble/pkg/modules"
	"github.com/liliang-cn/gosinble/pkg/types"
)

func hostsNamed(names ...string) []types.Host {
	out := make([]types.Host, len(names))
	for i, n := range names {
		out[i] = types.Host{Name: n}
	}
	return out
}

func TestApplyOrderSorted(t *testing.T) {
	hosts := hostsNamed("web3", "web1", "web2")
	out := applyOrder(hosts, types.OrderSorted, 0)
	assert.Equal(t, []string{"web1", "web2", "web3"}, namesOf(out))
}

func TestApplyOrderReverseSorted(t *testing.T) {
	hosts := hostsNamed("web1", "web3", "web2")
	out := applyOrder(hosts, types.OrderReverseSorted, 0)
	assert.Equal(t, []string{"web3", "web2", "web1"}, namesOf(out))
}

func TestApplyOrderReverseInventory(t *testing.T) {
	hosts := hostsNamed("a", "b", "c")
	out := applyOrder(hosts, types.OrderReverseInventory, 0)
	assert.Equal(t, []string{"c", "b", "a"}, namesOf(out))
}

func TestApplyOrderShuffleIsDeterministicForSameSeed(t *testing.T) {
	hosts := hostsNamed("a", "b", "c", "d", "e")
	out1 := applyOrder(hosts, types.OrderShuffle, 42)
	out2 := applyOrder(hosts, types.OrderShuffle, 42)
	assert.Equal(t, namesOf(out1), namesOf(out2))
}

func TestApplyOrderShuffleWithZeroSeedIsStableAcrossRuns(t *testing.T) {
	hosts := hostsNamed("a", "b", "c", "d", "e")
	out1 := applyOrder(hosts, types.OrderShuffle, 0)
	out2 := applyOrder(hosts, types.OrderShuffle, 0)
	assert.Equal(t, namesOf(out1), namesOf(out2), "zero seed must fall back to a deterministic host-derived seed")
}

func TestApplyOrderShuffleDoesNotMutateInput(t *testing.T) {
	hosts := hostsNamed("a", "b", "c")
	_ = applyOrder(hosts, types.OrderShuffle, 7)
	assert.Equal(t, []string{"a", "b", "c"}, namesOf(hosts))
}

func namesOf(hosts []types.Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Name
	}
	return out
}

func TestMatchesTagEmptyWantMatchesEverything(t *testing.T) {
	assert.True(t, matchesTag([]string{"deploy"}, nil))
	assert.True(t, matchesTag(nil, nil))
}

func TestMatchesTagRequiresIntersection(t *testing.T) {
	assert.True(t, matchesTag([]string{"deploy", "db"}, []string{"DB"}))
	assert.False(t, matchesTag([]string{"deploy"}, []string{"db"}))
}

func TestFilterOutExcludesFailedHosts(t *testing.T) {
	hosts := hostsNamed("a", "b", "c")
	excluded := map[string]struct{}{"b": {}}
	out := filterOut(hosts, excluded)
	assert.Equal(t, []string{"a", "c"}, namesOf(out))
}

func TestDropFailedRemovesOnlyFailedHostsByDefault(t *testing.T) {
	s := &Scheduler{}
	live := hostsNamed("a", "b")
	failed := make(map[string]struct{})
	results := []types.ExecutionResult{
		{Host: "a", Error: assertError{}},
	}
	out := s.dropFailed(results, live, failed, false)
	assert.Equal(t, []string{"b"}, namesOf(out))
	_, isFailed := failed["a"]
	assert.True(t, isFailed)
}

func TestDropFailedAnyErrorsFatalDropsEveryHost(t *testing.T) {
	s := &Scheduler{}
	live := hostsNamed("a", "b")
	failed := make(map[string]struct{})
	results := []types.ExecutionResult{
		{Host: "a", Error: assertError{}},
	}
	out := s.dropFailed(results, live, failed, true)
	assert.Nil(t, out)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

// exclusiveModule claims HostExclusive so concurrent dispatches against the
// same host must be serialized by the scheduler.
type exclusiveModule struct {
	mu      sync.Mutex
	running int
	maxSeen int
}

func (m *exclusiveModule) Name() string                        { return "exclusive" }
func (m *exclusiveModule) Classification() types.Classification { return types.LocalLogic }
func (m *exclusiveModule) ParallelizationHint() types.ParallelizationHint {
	return types.HostExclusive
}
func (m *exclusiveModule) RequiredParams() []string                     { return nil }
func (m *exclusiveModule) Validate(map[string]interface{}) error        { return nil }
func (m *exclusiveModule) Execute(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	m.mu.Lock()
	m.running++
	if m.running > m.maxSeen {
		m.maxSeen = m.running
	}
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	m.running--
	m.mu.Unlock()
	return types.Outcome{Success: true}, nil
}
func (m *exclusiveModule) Check(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	return m.Execute(ctx, params, mctx)
}
func (m *exclusiveModule) Diff(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (*types.Diff, error) {
	return nil, nil
}

func TestAcquireParallelizationHintSerializesHostExclusive(t *testing.T) {
	mod := &exclusiveModule{}
	reg := modules.NewRegistry()
	reg.Register(mod)
	s := &Scheduler{Executor: &executor.Executor{Modules: reg}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.acquireParallelizationHint(context.Background(), "exclusive", "host1")
			require.NoError(t, err)
			defer release()
			_, _ = mod.Execute(context.Background(), nil, types.ModuleContext{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, mod.maxSeen, "host_exclusive must never let two dispatches against the same host overlap")
}

func TestAcquireParallelizationHintUnknownModuleNoops(t *testing.T) {
	s := &Scheduler{Executor: &executor.Executor{Modules: modules.NewRegistry()}}
	release, err := s.acquireParallelizationHint(context.Background(), "missing", "host1")
	require.NoError(t, err)
	release()
}

func TestHostNameSeedIsStableForSameHostSet(t *testing.T) {
	a := hostNameSeed(hostsNamed("web1", "web2", "web3"))
	b := hostNameSeed(hostsNamed("web1", "web2", "web3"))
	assert.Equal(t, a, b)
}

func TestHostNameSeedDiffersForDifferentHostSets(t *testing.T) {
	a := hostNameSeed(hostsNamed("web1", "web2"))
	b := hostNameSeed(hostsNamed("web1", "web3"))
	assert.NotEqual(t, a, b)
}
