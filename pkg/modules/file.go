package modules

import (
	"context"
	"fmt"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// FileModule manages a path's existence and type: state=file|directory|
// absent|touch. It is HostExclusive because creating a directory tree
// and then touching files inside it must not race against itself on the
// same host.
type FileModule struct{}

func NewFileModule() *FileModule { return &FileModule{} }

func (m *FileModule) Name() string                        { return "file" }
func (m *FileModule) Classification() types.Classification { return types.NativeTransport }
func (m *FileModule) ParallelizationHint() types.ParallelizationHint {
	return types.HostExclusive
}
func (m *FileModule) RequiredParams() []string { return []string{"path"} }

func (m *FileModule) Validate(params map[string]interface{}) error {
	if err := requireParams(params, m.RequiredParams()); err != nil {
		return err
	}
	state := stringParam(params, "state", "file")
	switch state {
	case "file", "directory", "absent", "touch":
	default:
		return &types.ValidationError{Field: "state", Message: fmt.Sprintf("unsupported state %q", state)}
	}
	return nil
}

func (m *FileModule) Execute(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	conn, err := mustConnection(mctx)
	if err != nil {
		return types.Outcome{}, err
	}

	path := stringParam(params, "path", "")
	state := stringParam(params, "state", "file")

	exists, err := conn.PathExists(ctx, path)
	if err != nil {
		return types.Outcome{}, &types.ModuleExecutionError{Module: m.Name(), Host: mctx.Host, Message: "stat failed", Cause: err}
	}

	switch state {
	case "absent":
		if !exists {
			return types.Outcome{Success: true, Changed: false, Message: path + " already absent"}, nil
		}
		if mctx.CheckMode {
			return types.Outcome{Success: true, Changed: true, Message: "would remove " + path}, nil
		}
		if _, err := conn.Execute(ctx, fmt.Sprintf("rm -rf -- %q", path), types.ExecOptions{}); err != nil {
			return types.Outcome{}, &types.ModuleExecutionError{Module: m.Name(), Host: mctx.Host, Message: "remove failed", Cause: err}
		}
		return types.Outcome{Success: true, Changed: true, Message: "removed " + path}, nil

	case "directory":
		isDir, _ := conn.IsDirectory(ctx, path)
		if exists && isDir {
			return types.Outcome{Success: true, Changed: false, Message: path + " already a directory"}, nil
		}
		if mctx.CheckMode {
			return types.Outcome{Success: true, Changed: true, Message: "would create directory " + path}, nil
		}
		if _, err := conn.Execute(ctx, fmt.Sprintf("mkdir -p -- %q", path), types.ExecOptions{}); err != nil {
			return types.Outcome{}, &types.ModuleExecutionError{Module: m.Name(), Host: mctx.Host, Message: "mkdir failed", Cause: err}
		}
		return types.Outcome{Success: true, Changed: true, Message: "created directory " + path}, nil

	case "touch":
		if mctx.CheckMode {
			return types.Outcome{Success: true, Changed: !exists, Message: "would touch " + path}, nil
		}
		if _, err := conn.Execute(ctx, fmt.Sprintf("touch -- %q", path), types.ExecOptions{}); err != nil {
			return types.Outcome{}, &types.ModuleExecutionError{Module: m.Name(), Host: mctx.Host, Message: "touch failed", Cause: err}
		}
		return types.Outcome{Success: true, Changed: true, Message: "touched " + path}, nil

	default: // file
		if !exists {
			return types.Outcome{Success: false, Message: path + " does not exist and state=file does not create it"}, nil
		}
		return types.Outcome{Success: true, Changed: false, Message: path + " exists"}, nil
	}
}

func (m *FileModule) Check(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	mctx.CheckMode = true
	return m.Execute(ctx, params, mctx)
}

func (m *FileModule) Diff(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (*types.Diff, error) {
	return nil, nil
}
