package testutil

import (
	"context"
	"sync"

	"github.com/solsticeworks/scene-pilot/internal/llm"
	"github.com/solsticeworks/scene-pilot/internal/toolserver"
)

// MockDispatcher is a scriptable tool dispatcher recording every call.
type MockDispatcher struct {
	Tools     []llm.ToolSpec
	ExecuteFn func(ctx context.Context, call llm.ToolCall) toolserver.Result

	mu    sync.Mutex
	Calls []llm.ToolCall
}

func (d *MockDispatcher) AllTools() []llm.ToolSpec { return d.Tools }

func (d *MockDispatcher) ExecuteTool(ctx context.Context, call llm.ToolCall) toolserver.Result {
	d.mu.Lock()
	d.Calls = append(d.Calls, call)
	d.mu.Unlock()
	if d.ExecuteFn == nil {
		return toolserver.Result{Content: "ok"}
	}
	return d.ExecuteFn(ctx, call)
}

// CallCount returns how many tool calls were dispatched.
func (d *MockDispatcher) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
