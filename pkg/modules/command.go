package modules

import (
	"context"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// CommandModule runs an arbitrary command on the target host via its
// connection; it is the canonical RemoteCommand module and always reports
// changed, in check mode too, since shell commands carry no idempotency
// signal.
type CommandModule struct{}

func NewCommandModule() *CommandModule { return &CommandModule{} }

func (m *CommandModule) Name() string                        { return "command" }
func (m *CommandModule) Classification() types.Classification { return types.RemoteCommand }
func (m *CommandModule) ParallelizationHint() types.ParallelizationHint {
	return types.FullyParallel
}
func (m *CommandModule) RequiredParams() []string { return []string{"cmd"} }

func (m *CommandModule) Validate(params map[string]interface{}) error {
	return requireParams(params, m.RequiredParams())
}

func (m *CommandModule) Execute(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	conn, err := mustConnection(mctx)
	if err != nil {
		return types.Outcome{}, err
	}

	cmd := stringParam(params, "cmd", "")
	chdir := stringParam(params, "chdir", "")

	if mctx.CheckMode {
		return types.Outcome{Success: true, Changed: true, Message: "command would run in check mode: " + cmd}, nil
	}

	res, err := conn.Execute(ctx, cmd, types.ExecOptions{Cwd: chdir})
	if err != nil {
		return types.Outcome{}, &types.ModuleExecutionError{Module: m.Name(), Host: mctx.Host, Message: "execute failed", Cause: err}
	}

	outcome := types.Outcome{
		Success:       res.Success(),
		Changed:       true,
		CommandOutput: &res,
		Data: map[string]interface{}{
			"stdout":    res.Stdout,
			"stderr":    res.Stderr,
			"rc":        res.ExitCode,
			"cmd":       cmd,
		},
	}
	if !res.Success() {
		outcome.Message = "non-zero return code"
	}
	return outcome, nil
}

func (m *CommandModule) Check(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	mctx.CheckMode = true
	return m.Execute(ctx, params, mctx)
}

func (m *CommandModule) Diff(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (*types.Diff, error) {
	return nil, nil
}
