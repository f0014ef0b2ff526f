package modules

import (
	"bytes"
	"context"
	"os"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// CopyModule uploads a local file's content (or an inline "content"
// string) to a destination path, computing changed by comparing the
// destination's existing bytes first. It is NativeTransport: it drives
// the connection's Upload/Download directly rather than shelling out.
type CopyModule struct{}

func NewCopyModule() *CopyModule { return &CopyModule{} }

func (m *CopyModule) Name() string                        { return "copy" }
func (m *CopyModule) Classification() types.Classification { return types.NativeTransport }
func (m *CopyModule) ParallelizationHint() types.ParallelizationHint {
	return types.FullyParallel
}
func (m *CopyModule) RequiredParams() []string { return []string{"dest"} }

func (m *CopyModule) Validate(params map[string]interface{}) error {
	if err := requireParams(params, m.RequiredParams()); err != nil {
		return err
	}
	_, hasSrc := params["src"]
	_, hasContent := params["content"]
	if !hasSrc && !hasContent {
		return &types.ValidationError{Field: "src", Message: "one of src or content is required"}
	}
	return nil
}

func (m *CopyModule) resolveContent(params map[string]interface{}) ([]byte, error) {
	if content, ok := params["content"]; ok {
		if s, ok := content.(string); ok {
			return []byte(s), nil
		}
	}
	src := stringParam(params, "src", "")
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, &types.ModuleExecutionError{Module: "copy", Message: "read local src", Cause: err}
	}
	return data, nil
}

func (m *CopyModule) Execute(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	conn, err := mustConnection(mctx)
	if err != nil {
		return types.Outcome{}, err
	}

	content, err := m.resolveContent(params)
	if err != nil {
		return types.Outcome{}, err
	}
	dest := stringParam(params, "dest", "")

	existing, _ := conn.Download(ctx, dest)
	changed := !bytes.Equal(existing, content)

	if mctx.CheckMode {
		outcome := types.Outcome{Success: true, Changed: changed, Message: "copy would update " + dest}
		if mctx.DiffMode {
			outcome.Diff = &types.Diff{Before: string(existing), After: string(content)}
		}
		return outcome, nil
	}
	if !changed {
		return types.Outcome{Success: true, Changed: false, Message: dest + " already up to date"}, nil
	}

	if err := conn.Upload(ctx, content, dest, types.ExecOptions{}); err != nil {
		return types.Outcome{}, &types.ModuleExecutionError{Module: m.Name(), Host: mctx.Host, Message: "upload failed", Cause: err}
	}

	outcome := types.Outcome{Success: true, Changed: true, Message: "copied to " + dest}
	if mctx.DiffMode {
		outcome.Diff = &types.Diff{Before: string(existing), After: string(content)}
	}
	return outcome, nil
}

func (m *CopyModule) Check(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (types.Outcome, error) {
	mctx.CheckMode = true
	return m.Execute(ctx, params, mctx)
}

func (m *CopyModule) Diff(ctx context.Context, params map[string]interface{}, mctx types.ModuleContext) (*types.Diff, error) {
	mctx.DiffMode = true
	mctx.CheckMode = true
	outcome, err := m.Execute(ctx, params, mctx)
	if err != nil {
		return nil, err
	}
	return outcome.Diff, nil
}
