package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

// MockProvider serves scripted event streams, one script per request, and
// records every request it receives.
type MockProvider struct {
	Scripts [][]llm.Event

	mu       sync.Mutex
	Requests []llm.Request
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	m.mu.Lock()
	idx := len(m.Requests)
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if idx >= len(m.Scripts) {
		return nil, fmt.Errorf("mock provider: unexpected request %d", idx)
	}
	return &scriptedStream{ctx: ctx, events: m.Scripts[idx]}, nil
}

// RequestCount returns how many requests the provider has served.
func (m *MockProvider) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

type scriptedStream struct {
	ctx    context.Context
	events []llm.Event
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (llm.Event, error) {
	if s.closed {
		return llm.Event{}, llm.ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return llm.Event{}, err
	}
	if s.pos >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// TextScript builds a script that streams the given chunks and finishes.
func TextScript(chunks ...string) []llm.Event {
	events := make([]llm.Event, 0, len(chunks)+1)
	for _, c := range chunks {
		events = append(events, llm.Event{Type: llm.EventTextDelta, Text: c})
	}
	return append(events, llm.Event{Type: llm.EventDone})
}

// ToolCallScript builds a script that returns one batch of tool calls.
func ToolCallScript(calls ...llm.ToolCall) []llm.Event {
	return []llm.Event{
		{Type: llm.EventToolCalls, Tools: calls},
		{Type: llm.EventDone},
	}
}
