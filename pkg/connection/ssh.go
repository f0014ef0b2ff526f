package connection

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// SSHConnection implements types.Connection over a single multiplexed
// golang.org/x/crypto/ssh client; each call opens its own session, since
// the library does not allow concurrent use of one session.
type SSHConnection struct {
	client    *ssh.Client
	info      types.ConnectionInfo
	connected bool
}

// NewSSHConnection creates an unconnected SSH connection.
func NewSSHConnection() *SSHConnection {
	return &SSHConnection{}
}

func (c *SSHConnection) Connect(ctx context.Context, info types.ConnectionInfo) error {
	c.info = info

	timeout := info.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	port := info.Port
	if port == 0 {
		port = 22
	}

	config := &ssh.ClientConfig{
		User:            info.User,
		Timeout:         timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	if info.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(info.Password))
	}
	if info.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(info.PrivateKey))
		if err != nil {
			return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("parse private key: %w", err)}
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}
	if len(config.Auth) == 0 {
		if signers, err := loadDefaultKeys(); err == nil && len(signers) > 0 {
			config.Auth = append(config.Auth, ssh.PublicKeys(signers...))
		}
	}
	if len(config.Auth) == 0 {
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("no authentication method available")}
	}

	address := net.JoinHostPort(info.Host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &types.ConnectionError{Host: info.Host, Cause: err}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(rawConn, address, config)
	if err != nil {
		rawConn.Close()
		return &types.ConnectionError{Host: info.Host, Cause: err}
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.connected = true
	return nil
}

func loadDefaultKeys() ([]ssh.Signer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_rsa", "id_ed25519", "id_ecdsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func (c *SSHConnection) buildCommand(cmd string, become types.Become) string {
	if become.Enable && become.User != "" {
		return fmt.Sprintf("sudo -n -u %s sh -c %s", become.User, shellQuote(cmd))
	}
	if become.Enable {
		return fmt.Sprintf("sudo -n sh -c %s", shellQuote(cmd))
	}
	return cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (c *SSHConnection) Execute(ctx context.Context, cmd string, opts types.ExecOptions) (types.ExecResult, error) {
	if !c.connected {
		return types.ExecResult{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("not connected")}
	}

	session, err := c.client.NewSession()
	if err != nil {
		return types.ExecResult{}, &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	defer session.Close()

	full := c.buildCommand(cmd, opts.Become)
	if opts.Cwd != "" {
		full = fmt.Sprintf("cd %s && %s", shellQuote(opts.Cwd), full)
	}
	for k, v := range opts.Env {
		if err := session.Setenv(k, v); err != nil {
			// many sshd configs reject Setenv; fall back to inline export
			full = fmt.Sprintf("export %s=%s; %s", k, shellQuote(v), full)
		}
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return types.ExecResult{}, &types.TimeoutError{Operation: "execute", Host: c.info.Host}
	case err := <-done:
		result := types.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
}

// Upload streams content to dst by piping it into "cat > dst" over a
// fresh session's stdin; there is no sftp subsystem dependency, matching
// the sparser connection stack this module ships with.
func (c *SSHConnection) Upload(ctx context.Context, content []byte, dst string, opts types.ExecOptions) error {
	if !c.connected {
		return &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("not connected")}
	}
	session, err := c.client.NewSession()
	if err != nil {
		return &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return &types.ConnectionError{Host: c.info.Host, Cause: err}
	}

	cmd := c.buildCommand(fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(filepath.Dir(dst)), shellQuote(dst)), opts.Become)
	if err := session.Start(cmd); err != nil {
		return &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	if _, err := stdin.Write(content); err != nil {
		return &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	stdin.Close()
	if err := session.Wait(); err != nil {
		return &types.ConnectionError{Host: c.info.Host, Cause: err}
	}
	return nil
}

func (c *SSHConnection) Download(ctx context.Context, src string) ([]byte, error) {
	res, err := c.Execute(ctx, fmt.Sprintf("cat %s", shellQuote(src)), types.ExecOptions{})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("download failed: %s", res.Stderr)}
	}
	return []byte(res.Stdout), nil
}

func (c *SSHConnection) Stat(ctx context.Context, path string) (types.StatResult, error) {
	cmd := fmt.Sprintf("stat -c '%%s %%a %%u %%g %%F' %s", shellQuote(path))
	res, err := c.Execute(ctx, cmd, types.ExecOptions{})
	if err != nil {
		return types.StatResult{}, err
	}
	if !res.Success() {
		return types.StatResult{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("stat failed: %s", res.Stderr)}
	}
	fields := strings.Fields(strings.TrimSpace(res.Stdout))
	if len(fields) < 5 {
		return types.StatResult{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("unexpected stat output: %q", res.Stdout)}
	}
	size, _ := strconv.ParseInt(fields[0], 10, 64)
	mode, _ := strconv.ParseUint(fields[1], 8, 32)
	uid, _ := strconv.Atoi(fields[2])
	gid, _ := strconv.Atoi(fields[3])
	return types.StatResult{
		Size:  size,
		Mode:  uint32(mode),
		UID:   uid,
		GID:   gid,
		IsDir: strings.Contains(fields[4], "directory"),
	}, nil
}

func (c *SSHConnection) PathExists(ctx context.Context, path string) (bool, error) {
	res, err := c.Execute(ctx, fmt.Sprintf("test -e %s", shellQuote(path)), types.ExecOptions{})
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

func (c *SSHConnection) IsDirectory(ctx context.Context, path string) (bool, error) {
	res, err := c.Execute(ctx, fmt.Sprintf("test -d %s", shellQuote(path)), types.ExecOptions{})
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

func (c *SSHConnection) Close() error {
	c.connected = false
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
