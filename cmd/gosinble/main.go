// Command gosinble is the CLI entrypoint: run a playbook, replay a
// rollback plan from a saved session, or manage vault-encrypted files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/gosinble/internal/executor"
	"github.com/liliang-cn/gosinble/internal/scheduler"
	"github.com/liliang-cn/gosinble/pkg/callback"
	"github.com/liliang-cn/gosinble/pkg/inventory"
	"github.com/liliang-cn/gosinble/pkg/roles"
	"github.com/liliang-cn/gosinble/pkg/state"
	"github.com/liliang-cn/gosinble/pkg/types"
	"github.com/liliang-cn/gosinble/pkg/vars"
	"github.com/liliang-cn/gosinble/pkg/vault"
)

const (
	exitOK              = 0
	exitSomeFailed      = 2
	exitUnreachable     = 3
	exitParseError      = 4
	exitRollbackPartial = 5
	exitInternal        = 99
)

var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitParseError)
	}

	var err error
	var code int

	switch os.Args[1] {
	case "run":
		code, err = cmdRun(os.Args[2:])
	case "rollback":
		code, err = cmdRollback(os.Args[2:])
	case "vault":
		code, err = cmdVault(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("gosinble version %s (commit %s)\n", version, commit)
		os.Exit(exitOK)
	default:
		usage()
		os.Exit(exitParseError)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, `gosinble - agentless SSH orchestration

Usage:
  gosinble run [--check] [--diff] [-i inventory] [-e key=val] [--tags t1,t2] [-f forks] [--state-dir dir] playbook.yml
  gosinble rollback [--state-dir dir] <playbook>
  gosinble vault encrypt|decrypt|view --vault-password-file FILE <file>
  gosinble version
`)
}

func cmdRun(args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	inventoryFile := fs.String("i", "inventory.yml", "inventory file")
	check := fs.Bool("check", false, "dry run, no changes applied")
	diff := fs.Bool("diff", false, "show before/after diffs for changed tasks")
	extraVars := fs.String("e", "", "extra variables, key=value pairs or @file.yml")
	tags := fs.String("tags", "", "comma-separated tags to restrict execution to")
	forks := fs.Int("f", 5, "max hosts dispatched in parallel")
	stateDir := fs.String("state-dir", "", "directory for session snapshots (bolt-backed); empty disables persistence")
	jsonOutput := fs.Bool("json", false, "emit machine-readable JSON instead of human output")
	if err := fs.Parse(args); err != nil {
		return exitParseError, err
	}
	if fs.NArg() != 1 {
		return exitParseError, fmt.Errorf("run requires exactly one playbook argument")
	}
	playbookFile := fs.Arg(0)

	plays, err := loadPlaybook(playbookFile)
	if err != nil {
		return exitParseError, err
	}

	inv, err := inventory.LoadFile(*inventoryFile)
	if err != nil {
		return exitParseError, fmt.Errorf("load inventory: %w", err)
	}

	extraVarValues, err := parseExtraVars(*extraVars)
	if err != nil {
		return exitParseError, fmt.Errorf("parse extra vars: %w", err)
	}

	bus := callback.NewBus()
	if *jsonOutput {
		bus.Subscribe("json", callback.NewJSONSubscriber(os.Stdout).Handle)
	} else {
		bus.Subscribe("default", callback.NewDefaultSubscriber(os.Stdout).Handle)
	}
	bus.Publish(callback.Event{Kind: callback.EventPlaybookStart, Time: time.Now(), PlaybookName: playbookFile})

	exec := executor.New()
	exec.Bus = bus
	exec.CheckMode = *check
	exec.DiffMode = *diff

	var mgr *state.Manager
	var session *state.ExecutionSession
	if *stateDir != "" {
		persist, perr := state.NewBoltPersistence(*stateDir + "/state.db")
		if perr != nil {
			return exitInternal, fmt.Errorf("open state store: %w", perr)
		}
		mgr = state.NewManager(state.ProductionConfig(*stateDir), persist)
		session = mgr.StartSession(playbookFile)
		exec.Session = session
	}

	sched := scheduler.New(inv, exec, scheduler.Config{
		Forks: *forks,
		Tags:  splitCommaList(*tags),
	})
	sched.Roles = roles.NewManager([]string{"roles"})
	for k, v := range extraVarValues {
		sched.GlobalVars.Set(k, v, vars.ExtraVars)
	}

	ctx := context.Background()
	var allResults []types.ExecutionResult
	for _, play := range plays {
		results, perr := sched.RunPlay(ctx, play)
		allResults = append(allResults, results...)
		if perr != nil {
			return exitInternal, fmt.Errorf("play %q: %w", play.Name, perr)
		}
	}

	exitCode := summarize(allResults)
	bus.Publish(callback.Event{Kind: callback.EventRunEnd, Time: time.Now(), PlaybookName: playbookFile, Success: exitCode == exitOK})

	if mgr != nil && session != nil {
		if _, err := mgr.EndSession(ctx, session.ID, "cli run: "+playbookFile); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to persist session snapshot: %v\n", err)
		}
	}

	return exitCode, nil
}

func summarize(results []types.ExecutionResult) int {
	unreachable := false
	failed := false
	for _, r := range results {
		if r.Error == nil {
			continue
		}
		if _, ok := r.Error.(*types.ConnectionError); ok {
			unreachable = true
			continue
		}
		failed = true
	}
	switch {
	case unreachable:
		return exitUnreachable
	case failed:
		return exitSomeFailed
	default:
		return exitOK
	}
}

func cmdRollback(args []string) (int, error) {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	stateDir := fs.String("state-dir", "", "directory holding session snapshots (required)")
	if err := fs.Parse(args); err != nil {
		return exitParseError, err
	}
	if fs.NArg() != 1 || *stateDir == "" {
		return exitParseError, fmt.Errorf("rollback requires --state-dir and a playbook name")
	}
	playbook := fs.Arg(0)

	persist, err := state.NewBoltPersistence(*stateDir + "/state.db")
	if err != nil {
		return exitInternal, fmt.Errorf("open state store: %w", err)
	}
	mgr := state.NewManager(state.ProductionConfig(*stateDir), persist)

	ctx := context.Background()
	snap, err := mgr.GetLatestSnapshot(ctx, playbook)
	if err != nil {
		return exitInternal, fmt.Errorf("load latest snapshot for playbook %s: %w", playbook, err)
	}

	graph := state.NewDependencyGraph()
	plan, err := state.PlanRollback(snap, graph)
	if err != nil {
		return exitInternal, fmt.Errorf("build rollback plan: %w", err)
	}
	if len(plan.Actions) == 0 {
		fmt.Println("nothing to roll back: no changed, rollback-capable tasks in this session")
		return exitOK, nil
	}

	exec := executor.New()
	runner := &moduleRunnerAdapter{exec: exec}
	session := mgr.StartSession(playbook)
	rollbackExec := state.NewExecutor(runner, session)
	rollbackExec.StopOnError = false

	if err := rollbackExec.Execute(ctx, plan); err != nil {
		fmt.Fprintf(os.Stderr, "rollback error: %v\n", err)
	}
	if _, serr := mgr.EndSession(ctx, session.ID, "cli rollback: "+playbook); serr != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist rollback snapshot: %v\n", serr)
	}

	partial := false
	for _, action := range plan.Actions {
		fmt.Printf("%s [%s/%s]: %s\n", action.Status, action.Host, action.Module, action.TaskID)
		if action.Status == state.RollbackFailed {
			partial = true
		}
	}
	if partial {
		return exitRollbackPartial, nil
	}
	return exitOK, nil
}

// moduleRunnerAdapter lets the state package's rollback Executor dispatch
// through the same module registry/connection manager the scheduler uses,
// without pulling state's rollback.go into a dependency on internal/executor.
type moduleRunnerAdapter struct {
	exec *executor.Executor
}

func (a *moduleRunnerAdapter) moduleContext(ctx context.Context, moduleName, host string) (types.Module, types.ModuleContext, error) {
	mod, err := a.exec.Modules.Get(moduleName)
	if err != nil {
		return nil, types.ModuleContext{}, err
	}
	mctx := types.ModuleContext{Host: host}
	if mod.Classification() != types.LocalLogic {
		conn, err := a.exec.Connect.GetConnection(ctx, types.ConnectionInfo{Type: "local", Host: host})
		if err != nil {
			return nil, types.ModuleContext{}, err
		}
		mctx.Connection = conn
	}
	return mod, mctx, nil
}

func (a *moduleRunnerAdapter) RunModule(ctx context.Context, moduleName string, args map[string]interface{}, host string) (types.Outcome, error) {
	mod, mctx, err := a.moduleContext(ctx, moduleName, host)
	if err != nil {
		return types.Outcome{}, err
	}
	return mod.Execute(ctx, args, mctx)
}

func (a *moduleRunnerAdapter) CheckModule(ctx context.Context, moduleName string, args map[string]interface{}, host string) (*types.Diff, error) {
	mod, mctx, err := a.moduleContext(ctx, moduleName, host)
	if err != nil {
		return nil, err
	}
	return mod.Diff(ctx, args, mctx)
}

func cmdVault(args []string) (int, error) {
	if len(args) < 2 {
		return exitParseError, fmt.Errorf("vault requires a subcommand (encrypt|decrypt|view) and a file")
	}
	fs := flag.NewFlagSet("vault", flag.ContinueOnError)
	passwordFile := fs.String("vault-password-file", "", "file containing the vault password (required)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitParseError, err
	}
	if fs.NArg() != 1 || *passwordFile == "" {
		return exitParseError, fmt.Errorf("vault %s requires --vault-password-file and a target file", args[0])
	}
	target := fs.Arg(0)

	passwordBytes, err := os.ReadFile(*passwordFile)
	if err != nil {
		return exitInternal, fmt.Errorf("read vault password file: %w", err)
	}
	v := vault.New(strings.TrimSpace(string(passwordBytes)))

	data, err := os.ReadFile(target)
	if err != nil {
		return exitInternal, fmt.Errorf("read %s: %w", target, err)
	}

	switch args[0] {
	case "encrypt":
		encrypted, err := v.EncryptFile(data)
		if err != nil {
			return exitInternal, fmt.Errorf("encrypt: %w", err)
		}
		if err := os.WriteFile(target, encrypted, 0600); err != nil {
			return exitInternal, fmt.Errorf("write %s: %w", target, err)
		}
	case "decrypt":
		decrypted, err := v.DecryptFile(data)
		if err != nil {
			return exitInternal, fmt.Errorf("decrypt: %w", err)
		}
		if err := os.WriteFile(target, decrypted, 0600); err != nil {
			return exitInternal, fmt.Errorf("write %s: %w", target, err)
		}
	case "view":
		plaintext, err := v.ViewFile(data)
		if err != nil {
			return exitInternal, fmt.Errorf("view: %w", err)
		}
		fmt.Print(plaintext)
	default:
		return exitParseError, fmt.Errorf("unknown vault subcommand %q", args[0])
	}
	return exitOK, nil
}

// loadPlaybook parses a top-level list of plays, the same shape
// ansible-playbook accepts.
func loadPlaybook(path string) ([]types.Play, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	var plays []types.Play
	if err := yaml.Unmarshal(data, &plays); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	return plays, nil
}

func parseExtraVars(spec string) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if spec == "" {
		return result, nil
	}
	if strings.HasPrefix(spec, "@") {
		data, err := os.ReadFile(spec[1:])
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, err
		}
		return result, nil
	}
	for _, pair := range strings.Fields(spec) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		result[key] = coerce(value)
	}
	return result, nil
}

func coerce(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return s
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
