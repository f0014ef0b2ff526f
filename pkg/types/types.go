// Package types holds the data model and interface contracts shared across
// the execution core: tasks and plays, the Connection and Module boundaries,
// and the outcome/result shapes that flow from a module call through the
// executor into the state manager and callback bus.
package types

import (
	"context"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// parseSerialEntry parses one serial list entry, "3" or "25%", into its
// integer magnitude (the caller tracks whether it's a percentage).
func parseSerialEntry(v string) (int, error) {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, "%")
	return strconv.Atoi(v)
}

// Order controls how a play's resolved host list is sequenced before batching.
type Order string

const (
	OrderInventory        Order = "inventory"
	OrderSorted           Order = "sorted"
	OrderReverseSorted    Order = "reverse_sorted"
	OrderShuffle          Order = "shuffle"
	OrderReverseInventory Order = "reverse_inventory"
)

// Strategy selects how the scheduler advances hosts through a task list.
type Strategy string

const (
	StrategyLinear Strategy = "linear"
	StrategyFree   Strategy = "free"
)

// Serial describes a play's batching spec: an absolute count, a percentage
// of the host list, or an explicit list of batch sizes whose last entry
// repeats for the remainder.
type Serial struct {
	Absolute   int     `yaml:"-"`
	Percentage float64 `yaml:"-"`
	Sizes      []int   `yaml:"-"`
}

// UnmarshalYAML accepts any of Ansible's three serial shapes: a bare
// int/percentage scalar, or a list of ints/percentages.
func (s *Serial) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return s.assign(value.Value)
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		sizes := make([]int, 0, len(list))
		for _, item := range list {
			n, err := parseSerialEntry(item)
			if err != nil {
				return err
			}
			sizes = append(sizes, n)
		}
		s.Sizes = sizes
	}
	return nil
}

func (s *Serial) assign(v string) error {
	n, err := parseSerialEntry(v)
	if err != nil {
		return err
	}
	if len(v) > 0 && v[len(v)-1] == '%' {
		s.Percentage = float64(n)
	} else {
		s.Absolute = n
	}
	return nil
}

// IsZero reports whether no batching spec was given, in which case the
// scheduler treats the whole host list as a single batch.
func (s Serial) IsZero() bool {
	return s.Absolute == 0 && s.Percentage == 0 && len(s.Sizes) == 0
}

// Become carries privilege escalation instructions down to a Connection.
type Become struct {
	Enable bool   `yaml:"enabled,omitempty"`
	User   string `yaml:"user,omitempty"`
	Method string `yaml:"method,omitempty"`
}

// Play is one play within a playbook.
type Play struct {
	Name              string                 `yaml:"name,omitempty"`
	Hosts             string                 `yaml:"hosts"`
	PreTasks          []Task                 `yaml:"pre_tasks,omitempty"`
	Tasks             []Task                 `yaml:"tasks,omitempty"`
	PostTasks         []Task                 `yaml:"post_tasks,omitempty"`
	Handlers          []Handler              `yaml:"handlers,omitempty"`
	Roles             []string               `yaml:"roles,omitempty"`
	Vars              map[string]interface{} `yaml:"vars,omitempty"`
	VarsFiles         []string               `yaml:"vars_files,omitempty"`
	Serial            Serial                 `yaml:"serial,omitempty"`
	Order             Order                  `yaml:"order,omitempty"`
	StrategyName      Strategy               `yaml:"strategy,omitempty"`
	AnyErrorsFatal    bool                   `yaml:"any_errors_fatal,omitempty"`
	MaxFailPercentage float64                `yaml:"max_fail_percentage,omitempty"`
	GatherFacts       bool                   `yaml:"gather_facts,omitempty"`
	Become            Become                 `yaml:"become,omitempty"`
	CheckMode         bool                   `yaml:"check_mode,omitempty"`
	Tags              []string               `yaml:"tags,omitempty"`
	// Seed fixes the PRNG used by Order: "shuffle" so batches are
	// reproducible across runs. Zero means derive a seed from the play name.
	Seed int64 `yaml:"seed,omitempty"`
}

// Loop describes a task's finite iteration sequence and loop_control.
type Loop struct {
	Items    []interface{} `yaml:"items,omitempty"`
	LoopVar  string        `yaml:"loop_var,omitempty"`
	IndexVar string        `yaml:"index_var,omitempty"`
}

// Task is a single unit of work dispatched against a host.
type Task struct {
	ID           string                 `yaml:"id,omitempty"`
	Name         string                 `yaml:"name,omitempty"`
	Module       string                 `yaml:"module,omitempty"`
	Args         map[string]interface{} `yaml:"args,omitempty"`
	When         []string               `yaml:"when,omitempty"`
	Loop         *Loop                  `yaml:"loop,omitempty"`
	Register     string                 `yaml:"register,omitempty"`
	Retries      int                    `yaml:"retries,omitempty"`
	Delay        time.Duration          `yaml:"-"`
	Until        string                 `yaml:"until,omitempty"`
	Notify       []string               `yaml:"notify,omitempty"`
	Tags         []string               `yaml:"tags,omitempty"`
	ChangedWhen  string                 `yaml:"changed_when,omitempty"`
	FailedWhen   string                 `yaml:"failed_when,omitempty"`
	IgnoreErrors bool                   `yaml:"ignore_errors,omitempty"`
	NoLog        bool                   `yaml:"no_log,omitempty"`
	Become       *Become                `yaml:"become,omitempty"`
	RoleName     string                 `yaml:"-"`
	PlayName     string                 `yaml:"-"`
}

// UnmarshalYAML decodes delay as plain seconds, the unit ansible-playbook's
// until/retries/delay loop control uses, onto the otherwise ordinary Task shape.
func (t *Task) UnmarshalYAML(value *yaml.Node) error {
	type taskAlias Task
	var aux struct {
		taskAlias    `yaml:",inline"`
		DelaySeconds int `yaml:"delay,omitempty"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*t = Task(aux.taskAlias)
	t.Delay = time.Duration(aux.DelaySeconds) * time.Second
	return nil
}

// Handler is a notify-triggered task, deduplicated and run at flush points.
type Handler struct {
	Task   `yaml:",inline"`
	Listen string `yaml:"listen,omitempty"`
}

// Host is an opaque, inventory-resolved execution target.
type Host struct {
	Name   string                 `yaml:"name"`
	Vars   map[string]interface{} `yaml:"vars,omitempty"`
	Groups []string               `yaml:"groups,omitempty"`
}

// ExecOptions configures a single Connection.Execute/Upload/Download call.
type ExecOptions struct {
	Cwd     string
	Become  Become
	Timeout time.Duration
	Env     map[string]string
}

// ExecResult is the raw result of a Connection.Execute call.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the remote command exited zero.
func (r ExecResult) Success() bool { return r.ExitCode == 0 }

// StatResult is the result of a Connection.Stat call.
type StatResult struct {
	Size  int64
	Mode  uint32
	UID   int
	GID   int
	IsDir bool
}

// ConnectionInfo describes how to reach a host: transport type plus
// transport-specific dial parameters.
type ConnectionInfo struct {
	Type       string // "local", "ssh", "winrm", "websocket"
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	Timeout    time.Duration
	Extra      map[string]string
}

// Connection is the uniform remote-I/O capability the core depends on. It
// never assumes a specific transport; concrete backends (local/ssh/winrm/
// websocket) implement it.
type Connection interface {
	Connect(ctx context.Context, info ConnectionInfo) error
	Execute(ctx context.Context, cmd string, opts ExecOptions) (ExecResult, error)
	Upload(ctx context.Context, content []byte, dst string, opts ExecOptions) error
	Download(ctx context.Context, src string) ([]byte, error)
	Stat(ctx context.Context, path string) (StatResult, error)
	PathExists(ctx context.Context, path string) (bool, error)
	IsDirectory(ctx context.Context, path string) (bool, error)
	Close() error
}

// Classification describes how a module reaches the target host.
type Classification string

const (
	LocalLogic      Classification = "local_logic"
	NativeTransport Classification = "native_transport"
	RemoteCommand   Classification = "remote_command"
)

// ParallelizationHint tells the scheduler how aggressively a module's tasks
// may be run concurrently across and within hosts.
type ParallelizationHint struct {
	Kind string // "fully_parallel", "host_exclusive", "rate_limited"
	RPS  float64
}

var (
	FullyParallel = ParallelizationHint{Kind: "fully_parallel"}
	HostExclusive = ParallelizationHint{Kind: "host_exclusive"}
)

// RateLimited builds a rate-limited parallelisation hint.
func RateLimited(rps float64) ParallelizationHint {
	return ParallelizationHint{Kind: "rate_limited", RPS: rps}
}

// Diff is a before/after comparison a module may attach to its Outcome.
type Diff struct {
	Before string
	After  string
}

// Outcome is the result of a single module validate/check/diff/execute call.
type Outcome struct {
	Success       bool
	Changed       bool
	Skipped       bool
	Message       string
	Data          map[string]interface{}
	Warnings      []string
	Diff          *Diff
	CommandOutput *ExecResult
}

// Valid enforces the skipped invariant: skipped implies success and not changed.
func (o Outcome) Valid() bool {
	if o.Skipped && (!o.Success || o.Changed) {
		return false
	}
	return true
}

// ModuleContext carries the per-call environment a Module needs beyond its
// rendered params: the connection to the target (nil for LocalLogic), and
// the check/diff mode flags.
type ModuleContext struct {
	Connection Connection
	Host       string
	CheckMode  bool
	DiffMode   bool
}

// Module is the uniform task-operation contract every module implements.
type Module interface {
	Name() string
	Classification() Classification
	ParallelizationHint() ParallelizationHint
	RequiredParams() []string
	Validate(params map[string]interface{}) error
	Execute(ctx context.Context, params map[string]interface{}, mctx ModuleContext) (Outcome, error)
	Check(ctx context.Context, params map[string]interface{}, mctx ModuleContext) (Outcome, error)
	Diff(ctx context.Context, params map[string]interface{}, mctx ModuleContext) (*Diff, error)
}

// ExecutionResult is the immutable unit that flows to callbacks and state:
// one module dispatch's outcome against one host.
type ExecutionResult struct {
	Host         string
	TaskName     string
	TaskID       string
	Outcome      Outcome
	Duration     time.Duration
	Notify       []string
	Error        error
	RegisterName string
	Registered   map[string]interface{}
}

// Inventory is the adapter contract the scheduler consumes to resolve host
// patterns and variable bags; concrete loading (static file, dynamic
// plugin) lives outside the core.
type Inventory interface {
	ResolvePattern(pattern string) ([]Host, error)
	HostVars(host string) map[string]interface{}
	GroupVars(group string) map[string]interface{}
	GroupsOf(host string) []string
}

// Logger is the structured, leveled logging contract implemented by
// pkg/logging's StreamLogger; the scheduler, executor and state manager
// do not take one.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}
