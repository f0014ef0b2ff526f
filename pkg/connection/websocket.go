package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// wsOp names one relayed operation sent over the tunnel.
type wsOp string

const (
	wsOpExecute    wsOp = "execute"
	wsOpUpload     wsOp = "upload"
	wsOpDownload   wsOp = "download"
	wsOpStat       wsOp = "stat"
	wsOpPathExists wsOp = "path_exists"
	wsOpIsDir      wsOp = "is_directory"
)

// wsRequest is one relayed call, JSON-framed over the socket.
type wsRequest struct {
	Op      wsOp              `json:"op"`
	Cmd     string            `json:"cmd,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Path    string            `json:"path,omitempty"`
	Content []byte            `json:"content,omitempty"`
}

// wsResponse is the broker's reply to one wsRequest.
type wsResponse struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Content  []byte `json:"content,omitempty"`
	Size     int64  `json:"size,omitempty"`
	IsDir    bool   `json:"is_dir,omitempty"`
	Exists   bool   `json:"exists,omitempty"`
	Error    string `json:"error,omitempty"`
}

// WebSocketConnection implements types.Connection by relaying every call
// as a JSON request/response pair over a single gorilla/websocket
// connection to a broker, for targets whose only reachable egress is an
// outbound websocket tunnel (no direct SSH/WinRM route available).
type WebSocketConnection struct {
	conn *websocket.Conn
	info types.ConnectionInfo
	mu   sync.Mutex
}

// NewWebSocketConnection creates an unconnected websocket-tunnel connection.
func NewWebSocketConnection() *WebSocketConnection {
	return &WebSocketConnection{}
}

// Connect dials the broker named by info.Extra["broker_url"] (a ws:// or
// wss:// endpoint) and identifies the target host via a "host" query
// parameter, since the broker fans one listener out to many tunneled hosts.
func (c *WebSocketConnection) Connect(ctx context.Context, info types.ConnectionInfo) error {
	c.info = info

	broker := info.Extra["broker_url"]
	if broker == "" {
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("websocket connection requires extra.broker_url")}
	}
	u, err := url.Parse(broker)
	if err != nil {
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("parse broker_url: %w", err)}
	}
	q := u.Query()
	q.Set("host", info.Host)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: info.Timeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 30 * time.Second
	}

	header := map[string][]string{}
	if info.User != "" {
		header["X-Gosinble-User"] = []string{info.User}
	}
	if info.Password != "" {
		header["X-Gosinble-Token"] = []string{info.Password}
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("dial broker: %w", err)}
	}
	c.conn = conn

	if _, err := c.call(wsRequest{Op: wsOpExecute, Cmd: "whoami"}); err != nil {
		c.Close()
		return &types.ConnectionError{Host: info.Host, Cause: fmt.Errorf("connection test failed: %w", err)}
	}
	return nil
}

// call sends one request and waits for its matching response; the mutex
// keeps the socket strictly request-at-a-time.
func (c *WebSocketConnection) call(req wsRequest) (wsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return wsResponse{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("not connected")}
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return wsResponse{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("write request: %w", err)}
	}
	var resp wsResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return wsResponse{}, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("read response: %w", err)}
	}
	if resp.Error != "" {
		return resp, &types.ConnectionError{Host: c.info.Host, Cause: fmt.Errorf("%s", resp.Error)}
	}
	return resp, nil
}

func (c *WebSocketConnection) Execute(ctx context.Context, cmd string, opts types.ExecOptions) (types.ExecResult, error) {
	resp, err := c.call(wsRequest{Op: wsOpExecute, Cmd: cmd, Cwd: opts.Cwd, Env: opts.Env})
	if err != nil {
		return types.ExecResult{}, err
	}
	return types.ExecResult{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

func (c *WebSocketConnection) Upload(ctx context.Context, content []byte, dst string, opts types.ExecOptions) error {
	_, err := c.call(wsRequest{Op: wsOpUpload, Path: dst, Content: content})
	return err
}

func (c *WebSocketConnection) Download(ctx context.Context, src string) ([]byte, error) {
	resp, err := c.call(wsRequest{Op: wsOpDownload, Path: src})
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

func (c *WebSocketConnection) Stat(ctx context.Context, path string) (types.StatResult, error) {
	resp, err := c.call(wsRequest{Op: wsOpStat, Path: path})
	if err != nil {
		return types.StatResult{}, err
	}
	return types.StatResult{Size: resp.Size, IsDir: resp.IsDir}, nil
}

func (c *WebSocketConnection) PathExists(ctx context.Context, path string) (bool, error) {
	resp, err := c.call(wsRequest{Op: wsOpPathExists, Path: path})
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *WebSocketConnection) IsDirectory(ctx context.Context, path string) (bool, error) {
	resp, err := c.call(wsRequest{Op: wsOpIsDir, Path: path})
	if err != nil {
		return false, err
	}
	return resp.IsDir, nil
}

func (c *WebSocketConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	return err
}
