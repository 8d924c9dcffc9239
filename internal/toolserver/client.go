package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	protocolVersion = "2025-06-18"
	clientName      = "scene-pilot"
	clientVersion   = "1.0.0"

	// stopGrace is how long Stop waits for a server to exit after its stdin
	// closes before killing the process.
	stopGrace = 3 * time.Second
)

// ToolSpec describes a tool discovered from a server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
	Server      string
}

// Client owns one tool server: for stdio transport that is a subprocess and
// its pipes, for http transport a remote endpoint. Requests are correlated
// to responses by a per-server monotonic id; each in-flight request parks on
// an entry in the pending map and is completed exactly once.
type Client struct {
	name   string
	config ServerConfig

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	nextID      int64
	pending     map[int64]chan rpcResponse
	initialized bool
	running     bool
	done        chan struct{}
	tools       []ToolSpec

	// writeMu serializes request writes so concurrent calls cannot
	// interleave bytes on the server's stdin.
	writeMu sync.Mutex

	httpClient *http.Client
}

// NewClient creates a client for the given server configuration.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{
		name:    name,
		config:  config,
		pending: make(map[int64]chan rpcResponse),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// IsRunning reports whether the server is started and initialized.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.initialized
}

// Tools returns the tools discovered from this server.
func (c *Client) Tools() []ToolSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Start launches the server (for stdio transport), performs the initialize
// handshake and discovers its tools.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	if c.config.TransportType() == "stdio" {
		cmd := exec.Command(c.config.Command, c.config.Args...)
		cmd.Dir = c.config.Dir
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("stdin pipe for %s: %w", c.name, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("stdout pipe for %s: %w", c.name, err)
		}
		if err := cmd.Start(); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("start %s: %w", c.name, err)
		}

		c.cmd = cmd
		c.stdin = stdin
		c.done = make(chan struct{})
		c.running = true
		c.mu.Unlock()

		go c.readLoop(stdout)
	} else {
		c.done = make(chan struct{})
		c.running = true
		c.mu.Unlock()
	}

	if err := c.initialize(ctx); err != nil {
		c.Stop()
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.Stop()
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
		Capabilities:    map[string]any{},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	if c.config.TransportType() == "stdio" {
		return c.notify("notifications/initialized", nil)
	}
	return nil
}

func (c *Client) refreshTools(ctx context.Context) error {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	tools := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
			Server:      c.name,
		})
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

// CallTool invokes a tool on this server. A result flagged isError by the
// server is returned as a Go error; the caller decides how to surface it.
func (c *Client) CallTool(ctx context.Context, name string, args string) (string, error) {
	var arguments map[string]any
	if args != "" {
		if err := json.Unmarshal([]byte(args), &arguments); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	raw, err := c.call(ctx, "tools/call", callParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}

	var result callResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse tool result: %w", err)
	}
	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

// call issues one request and waits for its correlated response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.config.TransportType() == "http" {
		return c.httpCall(ctx, method, params)
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, fmt.Errorf("server %s is not running", c.name)
	}
	if !c.initialized && method != "initialize" {
		c.mu.Unlock()
		return nil, fmt.Errorf("server %s is not initialized", c.name)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeRequest(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write to %s: %w", c.name, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("server %s exited before responding", c.name)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		// Remove the pending entry so a late response cannot leak it; the
		// reader drops responses with no registered callback.
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a request with no id; no response is expected.
func (c *Client) notify(method string, params any) error {
	return c.writeRequest(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) writeRequest(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return fmt.Errorf("stdin closed")
	}
	_, err = c.stdin.Write(data)
	return err
}

// readLoop consumes newline-delimited responses from the server's stdout and
// completes pending requests by id. When the pipe closes (server exit or
// Stop) every still-pending request is failed so no callback is orphaned.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "toolserver %s: malformed response line: %v\n", c.name, err)
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing to correlate.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			fmt.Fprintf(os.Stderr, "toolserver %s: dropping response for unknown id %d\n", c.name, *resp.ID)
			continue
		}
		ch <- resp
	}

	if c.cmd != nil {
		_ = c.cmd.Wait()
	}

	c.mu.Lock()
	c.running = false
	c.initialized = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
}

// Stop shuts the server down: stdin closes first so a well-behaved server
// can exit on its own, then the process is killed after a grace period. All
// pending requests are failed before Stop returns.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.running && c.done == nil {
		c.mu.Unlock()
		return nil
	}
	done := c.done
	cmd := c.cmd
	c.running = false
	c.initialized = false
	c.tools = nil
	c.mu.Unlock()

	c.writeMu.Lock()
	if c.stdin != nil {
		_ = c.stdin.Close()
		c.stdin = nil
	}
	c.writeMu.Unlock()

	if cmd == nil {
		// HTTP transport: nothing to reap.
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.done = nil
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
		return nil
	}

	select {
	case <-done:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-done
	}

	c.mu.Lock()
	c.cmd = nil
	c.done = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) httpCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, fmt.Errorf("server %s is not running", c.name)
	}
	if !c.initialized && method != "initialize" {
		c.mu.Unlock()
		return nil, fmt.Errorf("server %s is not initialized", c.name)
	}
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server %s: HTTP %d: %s", c.name, resp.StatusCode, bytes.TrimSpace(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response from %s: %w", c.name, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.ID == nil || *rpcResp.ID != id {
		return nil, fmt.Errorf("server %s: response id mismatch", c.name)
	}
	return rpcResp.Result, nil
}
