package vars

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liliang-cn/gosinble/pkg/types"
)

type fakeConn struct {
	responses map[string]types.ExecResult
}

func (f *fakeConn) Connect(ctx context.Context, info types.ConnectionInfo) error { return nil }

func (f *fakeConn) Execute(ctx context.Context, cmd string, opts types.ExecOptions) (types.ExecResult, error) {
	if res, ok := f.responses[cmd]; ok {
		return res, nil
	}
	return types.ExecResult{ExitCode: 127, Stderr: "command not found"}, nil
}

func (f *fakeConn) Upload(ctx context.Context, content []byte, dst string, opts types.ExecOptions) error {
	return nil
}
func (f *fakeConn) Download(ctx context.Context, src string) ([]byte, error) { return nil, nil }
func (f *fakeConn) Stat(ctx context.Context, path string) (types.StatResult, error) {
	return types.StatResult{}, nil
}
func (f *fakeConn) PathExists(ctx context.Context, path string) (bool, error)   { return true, nil }
func (f *fakeConn) IsDirectory(ctx context.Context, path string) (bool, error)  { return false, nil }
func (f *fakeConn) Close() error                                                { return nil }

func TestGatherFactsCollectsSuccessfulCommands(t *testing.T) {
	conn := &fakeConn{responses: map[string]types.ExecResult{
		"hostname":             {Stdout: "web1\n", ExitCode: 0},
		"uname -s":             {Stdout: "Linux\n", ExitCode: 0},
		"uname -m":             {Stdout: "x86_64\n", ExitCode: 0},
		"uname -r":             {Stdout: "6.1.0\n", ExitCode: 0},
		"whoami":               {Stdout: "deploy\n", ExitCode: 0},
		"sh -c 'echo $HOME'":   {Stdout: "/home/deploy\n", ExitCode: 0},
	}}

	facts := GatherFacts(context.Background(), conn)

	assert.Equal(t, "web1", facts["ansible_hostname"])
	assert.Equal(t, "Linux", facts["ansible_system"])
	assert.Equal(t, "x86_64", facts["ansible_architecture"])
	assert.Equal(t, "6.1.0", facts["ansible_kernel"])
	assert.Equal(t, "deploy", facts["ansible_user_id"])
	assert.Equal(t, "/home/deploy", facts["ansible_env_home"])
	assert.Equal(t, true, facts["ansible_connection_gathered"])
}

func TestGatherFactsOmitsFailedCommandsWithoutErroring(t *testing.T) {
	conn := &fakeConn{responses: map[string]types.ExecResult{}}

	facts := GatherFacts(context.Background(), conn)

	_, hasHostname := facts["ansible_hostname"]
	assert.False(t, hasHostname)
	assert.Equal(t, false, facts["ansible_connection_gathered"])
}

func TestGatherFactsTrimsTrailingWhitespace(t *testing.T) {
	conn := &fakeConn{responses: map[string]types.ExecResult{
		"hostname": {Stdout: "  web1  \n", ExitCode: 0},
	}}
	facts := GatherFacts(context.Background(), conn)
	assert.Equal(t, strings.TrimSpace("  web1  \n"), facts["ansible_hostname"])
}
