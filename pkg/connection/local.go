package connection

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// LocalConnection implements types.Connection by shelling out on the
// controller itself; it never dials anywhere, so Connect always succeeds.
type LocalConnection struct {
	connected bool
}

// NewLocalConnection creates an unconnected local connection.
func NewLocalConnection() *LocalConnection {
	return &LocalConnection{}
}

func (c *LocalConnection) Connect(ctx context.Context, info types.ConnectionInfo) error {
	c.connected = true
	return nil
}

func buildShellCommand(ctx context.Context, cmd string, become types.Become) *exec.Cmd {
	if become.Enable && become.User != "" {
		return exec.CommandContext(ctx, "sudo", "-n", "-u", become.User, "sh", "-c", cmd)
	}
	if become.Enable {
		return exec.CommandContext(ctx, "sudo", "-n", "sh", "-c", cmd)
	}
	return exec.CommandContext(ctx, "sh", "-c", cmd)
}

func (c *LocalConnection) Execute(ctx context.Context, cmd string, opts types.ExecOptions) (types.ExecResult, error) {
	if !c.connected {
		return types.ExecResult{}, &types.ConnectionError{Host: "localhost", Cause: fmt.Errorf("not connected")}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c2 := buildShellCommand(ctx, cmd, opts.Become)
	if opts.Cwd != "" {
		c2.Dir = opts.Cwd
	}
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		c2.Env = env
	}

	var stdout, stderr bytes.Buffer
	c2.Stdout = &stdout
	c2.Stderr = &stderr

	err := c2.Run()
	result := types.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
			return result, nil
		}
	}
	return result, &types.ConnectionError{Host: "localhost", Cause: err}
}

func (c *LocalConnection) Upload(ctx context.Context, content []byte, dst string, opts types.ExecOptions) error {
	if !c.connected {
		return &types.ConnectionError{Host: "localhost", Cause: fmt.Errorf("not connected")}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &types.ConnectionError{Host: "localhost", Cause: err}
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return &types.ConnectionError{Host: "localhost", Cause: err}
	}
	return nil
}

func (c *LocalConnection) Download(ctx context.Context, src string) ([]byte, error) {
	if !c.connected {
		return nil, &types.ConnectionError{Host: "localhost", Cause: fmt.Errorf("not connected")}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, &types.ConnectionError{Host: "localhost", Cause: err}
	}
	return data, nil
}

func (c *LocalConnection) Stat(ctx context.Context, path string) (types.StatResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.StatResult{}, &types.ConnectionError{Host: "localhost", Cause: err}
	}
	result := types.StatResult{
		Size:  info.Size(),
		Mode:  uint32(info.Mode().Perm()),
		IsDir: info.IsDir(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		result.UID = int(stat.Uid)
		result.GID = int(stat.Gid)
	}
	return result, nil
}

func (c *LocalConnection) PathExists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &types.ConnectionError{Host: "localhost", Cause: err}
}

func (c *LocalConnection) IsDirectory(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &types.ConnectionError{Host: "localhost", Cause: err}
	}
	return info.IsDir(), nil
}

func (c *LocalConnection) Close() error {
	c.connected = false
	return nil
}
