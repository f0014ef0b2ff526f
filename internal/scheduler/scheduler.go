// Package scheduler resolves a play's hosts, batches them per Serial,
// and drives pre_tasks/roles/tasks/post_tasks/handlers through an
// executor. Every play runs linear: a task finishes on every host of the
// batch before the next task starts. Play.StrategyName is not read, so a
// play with strategy "free" also runs linear.
package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liliang-cn/gosinble/internal/executor"
	"github.com/liliang-cn/gosinble/pkg/callback"
	"github.com/liliang-cn/gosinble/pkg/roles"
	"github.com/liliang-cn/gosinble/pkg/types"
	"github.com/liliang-cn/gosinble/pkg/vars"
)

// Config tunes a Scheduler's concurrency and failure policy.
type Config struct {
	Forks             int
	ConnectionBuilder func(host types.Host) types.ConnectionInfo
	// Tags restricts execution to tasks whose Tags intersect it. Empty
	// runs every task, matching ansible-playbook with no --tags given.
	Tags []string
}

// Scheduler runs plays against an inventory.
type Scheduler struct {
	Inventory  types.Inventory
	Executor   *executor.Executor
	Bus        *callback.Bus
	Roles      *roles.Manager
	Config     Config
	GlobalVars *vars.Store

	registeredMu sync.Mutex
	registered   map[string]map[string]interface{}

	factsMu sync.Mutex
	facts   map[string]map[string]interface{}

	exclusiveMu    sync.Mutex
	exclusiveLocks map[string]*sync.Mutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New builds a scheduler over inv, dispatching through exec.
func New(inv types.Inventory, exec *executor.Executor, config Config) *Scheduler {
	if config.Forks <= 0 {
		config.Forks = 5
	}
	return &Scheduler{Inventory: inv, Executor: exec, Config: config, GlobalVars: vars.NewStore()}
}

// RunPlay resolves play.Hosts against the inventory, batches per
// play.Serial, and runs pre_tasks, each named role, tasks, and
// post_tasks in order against every batch, flushing notified handlers
// after pre_tasks, after roles and tasks, and after post_tasks.
func (s *Scheduler) RunPlay(ctx context.Context, play types.Play) ([]types.ExecutionResult, error) {
	hosts, err := s.Inventory.ResolvePattern(play.Hosts)
	if err != nil {
		return nil, err
	}
	hosts = applyOrder(hosts, play.Order, play.Seed)

	if s.Bus != nil {
		s.Bus.Publish(callback.Event{Kind: callback.EventPlayStart, Time: time.Now(), Play: &play, Hosts: hosts})
	}

	if play.GatherFacts {
		s.gatherFacts(ctx, hosts)
	}

	var allResults []types.ExecutionResult
	failedHosts := make(map[string]struct{})

	for _, batch := range Batches(hosts, play.Serial) {
		live := filterOut(batch, failedHosts)
		if len(live) == 0 {
			continue
		}

		notify := make(map[string]struct{})

		runSet := func(tasks []types.Task) {
			for _, task := range tasks {
				if !matchesTag(task.Tags, s.Config.Tags) {
					continue
				}
				task.PlayName = play.Name
				results := s.runTaskAcrossHosts(ctx, task, live, play, notify)
				allResults = append(allResults, results...)
				live = s.dropFailed(results, live, failedHosts, play.AnyErrorsFatal)
				if len(live) == 0 {
					break
				}
			}
		}

		runSet(play.PreTasks)

		s.flushHandlers(ctx, play, live, notify)
		clear(notify)

		for _, roleName := range play.Roles {
			if len(live) == 0 || s.Roles == nil {
				break
			}
			app, err := s.Roles.Resolve(ctx, roleName, nil)
			if err != nil {
				return allResults, err
			}
			for k, v := range app.Defaults {
				s.GlobalVars.Set(k, v, vars.RoleDefaults)
			}
			for k, v := range app.Vars {
				s.GlobalVars.Set(k, v, vars.RoleVars)
			}
			roleTasks := make([]types.Task, len(app.Tasks))
			for i, t := range app.Tasks {
				t.RoleName = roleName
				roleTasks[i] = t
			}
			runSet(roleTasks)
			play.Handlers = append(play.Handlers, app.Handlers...)
		}

		runSet(play.Tasks)

		s.flushHandlers(ctx, play, live, notify)
		clear(notify)

		runSet(play.PostTasks)

		s.flushHandlers(ctx, play, live, notify)
	}

	success := true
	for _, r := range allResults {
		if r.Error != nil {
			success = false
			break
		}
	}
	if s.Bus != nil {
		s.Bus.Publish(callback.Event{Kind: callback.EventPlayEnd, Time: time.Now(), Play: &play, Success: success})
	}
	return allResults, nil
}

// gatherFacts runs vars.GatherFacts against every host concurrently (capped
// by Config.Forks) and records the results at HostFacts precedence,
// publishing EventFactsGathered per host that responds.
func (s *Scheduler) gatherFacts(ctx context.Context, hosts []types.Host) {
	fn := func(ctx context.Context, host types.Host) types.ExecutionResult {
		connInfo := types.ConnectionInfo{Type: "local", Host: host.Name}
		if s.Config.ConnectionBuilder != nil {
			connInfo = s.Config.ConnectionBuilder(host)
		}
		conn, err := s.Executor.Connect.GetConnection(ctx, connInfo)
		if err != nil {
			return types.ExecutionResult{Host: host.Name, Error: err}
		}
		defer conn.Close()

		facts := vars.GatherFacts(ctx, conn)
		s.setFacts(host.Name, facts)
		if s.Bus != nil {
			s.Bus.Publish(callback.Event{Kind: callback.EventFactsGathered, Time: time.Now(), Host: host.Name, Facts: facts})
		}
		return types.ExecutionResult{Host: host.Name}
	}
	runStrategy(ctx, hosts, s.Config.Forks, fn)
}

func (s *Scheduler) setFacts(host string, facts map[string]interface{}) {
	s.factsMu.Lock()
	defer s.factsMu.Unlock()
	if s.facts == nil {
		s.facts = make(map[string]map[string]interface{})
	}
	s.facts[host] = facts
}

func (s *Scheduler) factsFor(host string) map[string]interface{} {
	s.factsMu.Lock()
	defer s.factsMu.Unlock()
	return s.facts[host]
}

func (s *Scheduler) runTaskAcrossHosts(ctx context.Context, task types.Task, hosts []types.Host, play types.Play, notify map[string]struct{}) []types.ExecutionResult {
	fn := func(ctx context.Context, host types.Host) types.ExecutionResult {
		release, err := s.acquireParallelizationHint(ctx, task.Module, host.Name)
		if err != nil {
			return types.ExecutionResult{Host: host.Name, TaskName: task.Name, TaskID: task.ID, Error: err}
		}
		defer release()

		hostVars := s.buildVars(host, play, task)
		connInfo := types.ConnectionInfo{Type: "local", Host: host.Name}
		if s.Config.ConnectionBuilder != nil {
			connInfo = s.Config.ConnectionBuilder(host)
		}
		result := s.Executor.Run(ctx, task, host, connInfo, hostVars)
		return result
	}

	results := runStrategy(ctx, hosts, s.Config.Forks, fn)
	for _, r := range results {
		if r.RegisterName != "" {
			s.setRegistered(r.Host, r.RegisterName, r.Registered)
		}
		if r.Outcome.Changed {
			for _, n := range r.Notify {
				notify[n] = struct{}{}
			}
		}
	}
	return results
}

// acquireParallelizationHint enforces a module's ParallelizationHint before
// it runs against host, returning a release func to call once the task
// finishes. HostExclusive serializes a module's dispatches against a given
// host; RateLimited throttles a module's dispatches run-wide to its RPS.
func (s *Scheduler) acquireParallelizationHint(ctx context.Context, moduleName, host string) (func(), error) {
	mod, err := s.Executor.Modules.Get(moduleName)
	if err != nil {
		return func() {}, nil
	}
	hint := mod.ParallelizationHint()
	switch hint.Kind {
	case types.HostExclusive.Kind:
		lock := s.exclusiveLockFor(moduleName, host)
		lock.Lock()
		return lock.Unlock, nil
	case "rate_limited":
		limiter := s.limiterFor(moduleName, hint.RPS)
		if err := limiter.Wait(ctx); err != nil {
			return func() {}, err
		}
		return func() {}, nil
	default:
		return func() {}, nil
	}
}

func (s *Scheduler) exclusiveLockFor(moduleName, host string) *sync.Mutex {
	s.exclusiveMu.Lock()
	defer s.exclusiveMu.Unlock()
	if s.exclusiveLocks == nil {
		s.exclusiveLocks = make(map[string]*sync.Mutex)
	}
	key := moduleName + "::" + host
	lock, ok := s.exclusiveLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.exclusiveLocks[key] = lock
	}
	return lock
}

func (s *Scheduler) limiterFor(moduleName string, rps float64) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	if s.limiters == nil {
		s.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := s.limiters[moduleName]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
		s.limiters[moduleName] = limiter
	}
	return limiter
}

// setRegistered records a task's "register:" result against host, visible
// to every later task on that host for the rest of the run.
func (s *Scheduler) setRegistered(host, name string, value map[string]interface{}) {
	s.registeredMu.Lock()
	defer s.registeredMu.Unlock()
	if s.registered == nil {
		s.registered = make(map[string]map[string]interface{})
	}
	if s.registered[host] == nil {
		s.registered[host] = make(map[string]interface{})
	}
	s.registered[host][name] = value
}

func (s *Scheduler) registeredFor(host string) map[string]interface{} {
	s.registeredMu.Lock()
	defer s.registeredMu.Unlock()
	return s.registered[host]
}

func (s *Scheduler) dropFailed(results []types.ExecutionResult, live []types.Host, failed map[string]struct{}, fatal bool) []types.Host {
	stillLive := make([]types.Host, 0, len(live))
	failedThisRound := make(map[string]struct{})
	for _, r := range results {
		if r.Error != nil {
			failedThisRound[r.Host] = struct{}{}
			failed[r.Host] = struct{}{}
		}
	}
	if fatal && len(failedThisRound) > 0 {
		return nil
	}
	for _, h := range live {
		if _, down := failedThisRound[h.Name]; !down {
			stillLive = append(stillLive, h)
		}
	}
	return stillLive
}

func (s *Scheduler) flushHandlers(ctx context.Context, play types.Play, hosts []types.Host, notify map[string]struct{}) {
	if len(notify) == 0 {
		return
	}
	seen := make(map[string]struct{})
	for _, h := range play.Handlers {
		if _, want := notify[h.Listen]; !want {
			if _, wantByName := notify[h.Name]; !wantByName {
				continue
			}
		}
		if _, done := seen[h.Name]; done {
			continue
		}
		seen[h.Name] = struct{}{}

		task := h.Task
		task.PlayName = play.Name
		if s.Bus != nil {
			s.Bus.Publish(callback.Event{Kind: callback.EventHandlerRun, Time: time.Now(), Task: &task, Hosts: hosts})
		}
		s.runTaskAcrossHosts(ctx, task, hosts, play, map[string]struct{}{})
	}
}

func (s *Scheduler) buildVars(host types.Host, play types.Play, task types.Task) map[string]interface{} {
	store := vars.NewStore()
	for _, k := range s.GlobalVars.Keys() {
		if v, ok := s.GlobalVars.GetVariable(k); ok {
			store.Set(k, v.Value, v.Precedence)
		}
	}
	for k, v := range s.Inventory.GroupVars("all") {
		store.Set(k, v, vars.InventoryGroupVars)
	}
	for _, g := range s.Inventory.GroupsOf(host.Name) {
		for k, v := range s.Inventory.GroupVars(g) {
			store.Set(k, v, vars.InventoryFileGroupVars)
		}
	}
	for k, v := range s.Inventory.HostVars(host.Name) {
		store.Set(k, v, vars.InventoryHostVars)
	}
	for k, v := range s.factsFor(host.Name) {
		store.Set(k, v, vars.HostFacts)
	}
	for k, v := range play.Vars {
		store.Set(k, v, vars.PlayVars)
	}
	for k, v := range host.Vars {
		store.Set(k, v, vars.PlaybookHostVars)
	}
	for k, v := range s.registeredFor(host.Name) {
		store.Set(k, v, vars.SetFacts)
	}
	merged := store.All()
	merged["inventory_hostname"] = host.Name
	merged["ansible_check_mode"] = s.Executor.CheckMode
	return merged
}

func applyOrder(hosts []types.Host, order types.Order, seed int64) []types.Host {
	out := make([]types.Host, len(hosts))
	copy(out, hosts)
	switch order {
	case types.OrderSorted:
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	case types.OrderReverseSorted:
		sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	case types.OrderReverseInventory:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case types.OrderShuffle:
		if seed == 0 {
			seed = hostNameSeed(hosts)
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	default:
	}
	return out
}

// hostNameSeed derives a stable fallback seed from the host set itself, so
// an unset Play.Seed still shuffles the same way across runs of the same
// inventory rather than reseeding from wall-clock time.
func hostNameSeed(hosts []types.Host) int64 {
	var seed int64 = 1469598103934665603 // FNV offset basis
	for _, h := range hosts {
		for _, c := range h.Name {
			seed ^= int64(c)
			seed *= 1099511628211 // FNV prime
		}
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}

func filterOut(hosts []types.Host, exclude map[string]struct{}) []types.Host {
	if len(exclude) == 0 {
		return hosts
	}
	out := make([]types.Host, 0, len(hosts))
	for _, h := range hosts {
		if _, excluded := exclude[h.Name]; !excluded {
			out = append(out, h)
		}
	}
	return out
}

// matchesTag reports whether a task's tags intersect the requested set,
// or whether no filter was requested at all.
func matchesTag(taskTags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, t := range taskTags {
		for _, w := range want {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}
