package modules

import (
	"context"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// PingModule is pure local logic: it never touches the connection, just
// confirms the executor reached this host and can run a module at all.
type PingModule struct{}

func NewPingModule() *PingModule { return &PingModule{} }

func (m *PingModule) Name() string                            { return "ping" }
func (m *PingModule) Classification() types.Classification     { return types.LocalLogic }
func (m *PingModule) ParallelizationHint() types.ParallelizationHint {
	return types.FullyParallel
}
func (m *PingModule) RequiredParams() []string { return nil }

func (m *PingModule) Validate(params map[string]interface{}) error { return nil }

func (m *PingModule) Execute(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	data := stringParam(params, "data", "pong")
	return types.Outcome{
		Success: true,
		Changed: false,
		Message: "pong",
		Data:    map[string]interface{}{"ping": data},
	}, nil
}

func (m *PingModule) Check(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	return m.Execute(ctx, params, mctx)
}

func (m *PingModule) Diff(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (*types.Diff, error) {
	return nil, nil
}
