package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/gosinble/pkg/types"
)

type fakeCopyConn struct {
	existing []byte
	uploaded []byte
}

func (f *fakeCopyConn) Connect(ctx context.Context, info types.ConnectionInfo) error { return nil }
func (f *fakeCopyConn) Execute(ctx context.Context, cmd string, opts types.ExecOptions) (types.ExecResult, error) {
	return types.ExecResult{}, nil
}
func (f *fakeCopyConn) Upload(ctx context.Context, content []byte, dst string, opts types.ExecOptions) error {
	f.uploaded = content
	return nil
}
func (f *fakeCopyConn) Download(ctx context.Context, src string) ([]byte, error) {
	return f.existing, nil
}
func (f *fakeCopyConn) Stat(ctx context.Context, path string) (types.StatResult, error) {
	return types.StatResult{}, nil
}
func (f *fakeCopyConn) PathExists(ctx context.Context, path string) (bool, error)  { return true, nil }
func (f *fakeCopyConn) IsDirectory(ctx context.Context, path string) (bool, error) { return false, nil }
func (f *fakeCopyConn) Close() error                                              { return nil }

func TestCopyExecuteUploadsWhenContentDiffers(t *testing.T) {
	conn := &fakeCopyConn{existing: []byte("old")}
	m := NewCopyModule()
	outcome, err := m.Execute(context.Background(), map[string]interface{}{
		"dest": "/etc/app.conf", "content": "new",
	}, types.ModuleContext{Connection: conn})
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, []byte("new"), conn.uploaded)
}

func TestCopyExecuteNoopWhenContentMatches(t *testing.T) {
	conn := &fakeCopyConn{existing: []byte("same")}
	m := NewCopyModule()
	outcome, err := m.Execute(context.Background(), map[string]interface{}{
		"dest": "/etc/app.conf", "content": "same",
	}, types.ModuleContext{Connection: conn})
	require.NoError(t, err)
	assert.False(t, outcome.Changed)
	assert.Nil(t, conn.uploaded)
}

func TestCopyCheckModePopulatesDiffWhenDiffModeSet(t *testing.T) {
	conn := &fakeCopyConn{existing: []byte("old")}
	m := NewCopyModule()
	outcome, err := m.Execute(context.Background(), map[string]interface{}{
		"dest": "/etc/app.conf", "content": "new",
	}, types.ModuleContext{Connection: conn, CheckMode: true, DiffMode: true})
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	require.NotNil(t, outcome.Diff)
	assert.Equal(t, "old", outcome.Diff.Before)
	assert.Equal(t, "new", outcome.Diff.After)
	assert.Nil(t, conn.uploaded, "check mode must never upload")
}

func TestCopyDiffReturnsBeforeAfterWithoutMutating(t *testing.T) {
	conn := &fakeCopyConn{existing: []byte("old")}
	m := NewCopyModule()
	diff, err := m.Diff(context.Background(), map[string]interface{}{
		"dest": "/etc/app.conf", "content": "new",
	}, types.ModuleContext{Connection: conn})
	require.NoError(t, err)
	require.NotNil(t, diff)
	assert.Equal(t, "old", diff.Before)
	assert.Equal(t, "new", diff.After)
	assert.Nil(t, conn.uploaded)
}
