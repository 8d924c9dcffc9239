package toolserver

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

// ServerStatus represents the current state of a tool server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// StatusUpdate is sent when a server's status changes.
type StatusUpdate struct {
	Name   string
	Status ServerStatus
	Error  error
}

// Result is the outcome of a tool execution. Remote failures of any kind
// (crash, timeout, malformed output, bad arguments) become IsError results,
// never Go errors: the model sees failures, they do not end the session.
type Result struct {
	Content string
	IsError bool
}

type serverState struct {
	status ServerStatus
	err    error
	client *Client
}

// Manager owns the configured tool servers and merges their tools into a
// single registry keyed by tool name.
type Manager struct {
	config      *Config
	callTimeout time.Duration

	mu       sync.RWMutex
	states   map[string]*serverState
	registry map[string]ToolSpec // tool name -> owning spec
	order    []string            // registry insertion order, for stable listings

	statusChan chan StatusUpdate
}

// NewManager creates a manager over the given configuration.
func NewManager(config *Config, callTimeout time.Duration) *Manager {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &Manager{
		config:      config,
		callTimeout: callTimeout,
		states:      make(map[string]*serverState),
		registry:    make(map[string]ToolSpec),
	}
}

// SetStatusChannel sets a channel to receive server status updates.
func (m *Manager) SetStatusChannel(ch chan StatusUpdate) {
	m.mu.Lock()
	m.statusChan = ch
	m.mu.Unlock()
}

func (m *Manager) sendStatus(name string, status ServerStatus, err error) {
	m.mu.RLock()
	ch := m.statusChan
	m.mu.RUnlock()
	if ch != nil {
		select {
		case ch <- StatusUpdate{Name: name, Status: status, Error: err}:
		default:
		}
	}
}

// DiscoverTools starts every configured server, waits for discovery to
// finish, and merges the tool lists. It reports overall success (true when
// at least every *starting* server either came up or was already failed) and
// the merged registry. A name claimed by two servers is logged; the
// last-discovered definition wins.
func (m *Manager) DiscoverTools(ctx context.Context) (bool, []llm.ToolSpec) {
	names := m.config.ServerNames()

	var wg sync.WaitGroup
	ok := true
	var okMu sync.Mutex

	for _, name := range names {
		serverCfg := m.config.Servers[name]
		client := NewClient(name, serverCfg)

		m.mu.Lock()
		m.states[name] = &serverState{status: StatusStarting, client: client}
		m.mu.Unlock()
		m.sendStatus(name, StatusStarting, nil)

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := client.Start(ctx)

			m.mu.Lock()
			state := m.states[name]
			if err != nil {
				state.status = StatusFailed
				state.err = err
			} else {
				state.status = StatusReady
				for _, tool := range client.Tools() {
					if prev, exists := m.registry[tool.Name]; exists {
						fmt.Fprintf(os.Stderr,
							"toolserver: tool %q from server %q shadows the one from %q\n",
							tool.Name, tool.Server, prev.Server)
					} else {
						m.order = append(m.order, tool.Name)
					}
					m.registry[tool.Name] = tool
				}
			}
			m.mu.Unlock()

			if err != nil {
				okMu.Lock()
				ok = false
				okMu.Unlock()
			}
			m.sendStatus(name, m.status(name), err)
		}(name)
	}
	wg.Wait()

	return ok, m.AllTools()
}

func (m *Manager) status(name string) ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[name]; ok {
		return state.status
	}
	return StatusStopped
}

// ServerStatus returns the status and last error for a server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.status, state.err
}

// AllTools returns the merged tool registry as LLM tool specs, in discovery
// order.
func (m *Manager) AllTools() []llm.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(m.order))
	for _, name := range m.order {
		tool := m.registry[name]
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.Schema,
		})
	}
	return specs
}

// ExecuteTool routes a tool call to its owning server and executes it.
func (m *Manager) ExecuteTool(ctx context.Context, call llm.ToolCall) Result {
	m.mu.RLock()
	tool, ok := m.registry[call.Name]
	var state *serverState
	if ok {
		state = m.states[tool.Server]
	}
	m.mu.RUnlock()

	if !ok {
		return Result{Content: fmt.Sprintf("Error: unknown tool: %s", call.Name), IsError: true}
	}
	if state == nil || state.status != StatusReady || state.client == nil {
		return Result{Content: fmt.Sprintf("Error: tool server %s is not running", tool.Server), IsError: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	output, err := state.client.CallTool(callCtx, call.Name, call.Arguments)
	if err != nil {
		return Result{Content: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	return Result{Content: output}
}

// StopAll stops every running server and clears the registry.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.states))
	for _, state := range m.states {
		if state.client != nil {
			clients = append(clients, state.client)
		}
	}
	m.states = make(map[string]*serverState)
	m.registry = make(map[string]ToolSpec)
	m.order = nil
	m.mu.Unlock()

	for _, c := range clients {
		_ = c.Stop()
	}
}
