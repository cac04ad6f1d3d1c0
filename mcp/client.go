package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/devsupport/telemetry"
	"github.com/vinayprograms/devsupport/transport"
)

// Client calls tools on an MCP server.
type Client struct {
	transport transport.Transport
	info      Implementation
	cancel    context.CancelFunc
	runErr    chan error

	id      atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]chan *transport.Response
	done    chan struct{}

	ready  atomic.Bool
	server Implementation
	tools  []Tool

	// set when the client owns the server process
	cmd   *exec.Cmd
	stdin io.Closer
}

// ServerConfig configures a server launched as a child process.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// NewClient starts a client on t. The client runs t until Close.
func NewClient(t transport.Transport, info Implementation) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: t,
		info:      info,
		cancel:    cancel,
		runErr:    make(chan error, 1),
		pending:   make(map[int64]chan *transport.Response),
		done:      make(chan struct{}),
	}
	go func() { c.runErr <- t.Run(ctx) }()
	go c.readResponses()
	return c
}

// Spawn launches a server process and connects to it over its stdio.
func Spawn(config ServerConfig, info Implementation) (*Client, error) {
	cmd := exec.Command(config.Command, config.Args...)

	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	c := NewClient(transport.NewStdioTransport(stdout, stdin, transport.DefaultConfig()), info)
	c.cmd = cmd
	c.stdin = stdin
	return c, nil
}

// Dial connects to a server listening for WebSocket connections.
func Dial(ctx context.Context, url string, info Implementation) (*Client, error) {
	t, err := transport.DialWebSocket(ctx, url, transport.DefaultWebSocketConfig())
	if err != nil {
		return nil, err
	}
	return NewClient(t, info), nil
}

// Initialize performs the MCP initialization handshake.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	raw, err := c.call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      c.info,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse initialize result: %w", err)
	}

	if err := c.notify(MethodInitialized); err != nil {
		return nil, err
	}

	c.server = result.ServerInfo
	c.ready.Store(true)
	return &result, nil
}

// Server returns the identity reported by the server during Initialize.
func (c *Client) Server() Implementation {
	return c.server
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, nil)
	return err
}

// ListTools fetches available tools from the server.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("client not initialized")
	}

	raw, err := c.call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}

	var list ToolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to parse tools list: %w", err)
	}

	c.tools = list.Tools
	return list.Tools, nil
}

// Tools returns the tools from the last ListTools.
func (c *Client) Tools() []Tool {
	return c.tools
}

// CallTool invokes a tool on the server. A tool that fails in-band returns
// a result with IsError set and a nil error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResult, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("client not initialized")
	}

	params := ToolCallParams{Name: name, Meta: map[string]string{}}
	telemetry.InjectContext(ctx, params.Meta)
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", err)
		}
		params.Arguments = data
	}

	raw, err := c.call(ctx, MethodToolsCall, params)
	if err != nil {
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tool result: %w", err)
	}
	return &result, nil
}

// Close stops the transport and, for spawned servers, waits for the
// process to exit.
func (c *Client) Close() error {
	c.transport.Close()
	c.cancel()
	err := <-c.runErr

	if c.cmd != nil {
		c.stdin.Close()
		if waitErr := c.cmd.Wait(); waitErr != nil {
			return waitErr
		}
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.id.Add(1)

	req, err := transport.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *transport.Response, 1)
	c.pendMu.Lock()
	c.pending[id] = respCh
	c.pendMu.Unlock()

	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.transport.Send(&transport.OutboundMessage{Request: req}); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-c.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) notify(method string) error {
	return c.transport.Send(&transport.OutboundMessage{
		Notification: &transport.Notification{JSONRPC: "2.0", Method: method},
	})
}

func (c *Client) readResponses() {
	defer close(c.done)

	for msg := range c.transport.Recv() {
		switch {
		case msg.Response != nil:
			id, ok := responseID(msg.Response.ID)
			if !ok {
				continue
			}
			c.pendMu.Lock()
			ch, ok := c.pending[id]
			c.pendMu.Unlock()
			if ok {
				ch <- msg.Response
			}
		case msg.Request != nil:
			// No server-initiated requests are supported.
			c.transport.Send(transport.NewError(msg.Request.ID, transport.MethodNotFound, "Method not found", msg.Request.Method))
		}
	}
}

// responseID converts a decoded JSON id back to the int64 the client sent.
func responseID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), float64(int64(v)) == v
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
