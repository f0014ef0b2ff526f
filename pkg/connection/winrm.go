package connection

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/masterzen/winrm"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// WinRMConnection implements types.Connection over masterzen/winrm for
// Windows targets; Extra["use_ssl"]/Extra["skip_verify"] on
// types.ConnectionInfo tune the endpoint since those flags have no
// dedicated field in the shared struct.
type WinRMConnection struct {
	client    *winrm.Client
	info      types.ConnectionInfo
	connected bool
}

// NewWinRMConnection creates an unconnected WinRM connection.
func NewWinRMConnection() *WinRMConnection {
	return &WinRMConnection{}
}

func (c *WinRMConnection) Connect(ctx context.Context, info types.ConnectionInfo) error {
	c.info = info

	useSSL := info.Extra["use_ssl"] == "true"
	skipVerify := info.Extra["skip_verify"] == "true"

	port := info.Port
	if port == 0 {
		if useSSL {
			port = 5986
		} else {
			port = 5985
		}
	}

	endpoint := winrm.NewEndpoint(info.Host, port, useSSL, skipVerify, nil, nil, nil, info.Timeout)

	client, err := winrm.NewClient(endpoint, info.User, info.Password)
	if err != nil {
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("create winrm client: %w", err)}
	}

	c.client = client
	c.connected = true

	if _, err := c.Execute(ctx, "whoami", types.ExecOptions{}); err != nil {
		c.Close()
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("connection test failed: %w", err)}
	}
	return nil
}

func (c *WinRMConnection) Execute(ctx context.Context, cmd string, opts types.ExecOptions) (types.ExecResult, error) {
	if !c.connected {
		return types.ExecResult{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("not connected")}
	}

	full := cmd
	if opts.Cwd != "" {
		full = fmt.Sprintf("cd /d %s && %s", opts.Cwd, cmd)
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := c.client.RunWithContext(ctx, full, &stdout, &stderr)
	if err != nil {
		return types.ExecResult{}, &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	return types.ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// Upload base64-encodes content and writes it to dst via a PowerShell
// one-liner, replacing any existing file, since WinRM has no native
// file-transfer subsystem.
func (c *WinRMConnection) Upload(ctx context.Context, content []byte, dst string, opts types.ExecOptions) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	script := fmt.Sprintf(
		`powershell -Command "[IO.File]::WriteAllBytes('%s', [Convert]::FromBase64String('%s'))"`,
		winPathEscape(dst), encoded,
	)
	res, err := c.Execute(ctx, script, opts)
	if err != nil {
		return err
	}
	if !res.Success() {
		return &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("upload failed: %s", res.Stderr)}
	}
	return nil
}

func (c *WinRMConnection) Download(ctx context.Context, src string) ([]byte, error) {
	script := fmt.Sprintf(
		`powershell -Command "[Convert]::ToBase64String([IO.File]::ReadAllBytes('%s'))"`,
		winPathEscape(src),
	)
	res, err := c.Execute(ctx, script, types.ExecOptions{})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("download failed: %s", res.Stderr)}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(res.Stdout))
	if err != nil {
		return nil, &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	return data, nil
}

func (c *WinRMConnection) Stat(ctx context.Context, path string) (types.StatResult, error) {
	script := fmt.Sprintf(
		`powershell -Command "$i = Get-Item '%s'; if ($i.PSIsContainer) { Write-Output '0 1' } else { Write-Output \"$($i.Length) 0\" }"`,
		winPathEscape(path),
	)
	res, err := c.Execute(ctx, script, types.ExecOptions{})
	if err != nil {
		return types.StatResult{}, err
	}
	if !res.Success() {
		return types.StatResult{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("stat failed: %s", res.Stderr)}
	}
	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) < 2 {
		return types.StatResult{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("unexpected stat output: %q", res.Stdout)}
	}
	size, _ := strconv.ParseInt(fields[0], 10, 64)
	isDir := fields[1] == "1"
	return types.StatResult{Size: size, IsDir: isDir}, nil
}

func (c *WinRMConnection) PathExists(ctx context.Context, path string) (bool, error) {
	script := fmt.Sprintf(`powershell -Command "Test-Path '%s'"`, winPathEscape(path))
	res, err := c.Execute(ctx, script, types.ExecOptions{})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "True", nil
}

func (c *WinRMConnection) IsDirectory(ctx context.Context, path string) (bool, error) {
	script := fmt.Sprintf(`powershell -Command "(Get-Item '%s').PSIsContainer"`, winPathEscape(path))
	res, err := c.Execute(ctx, script, types.ExecOptions{})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "True", nil
}

func (c *WinRMConnection) Close() error {
	c.connected = false
	return nil
}

func winPathEscape(p string) string {
	return strings.ReplaceAll(p, "'", "''")
}
