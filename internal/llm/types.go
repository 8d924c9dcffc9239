package llm

import (
	"context"
	"time"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn. The shape mirrors both the
// chat-completions wire format and the persisted history document:
// Content may be empty when an assistant turn carries tool calls,
// ToolCallID is set only on tool-role messages and references the
// assistant tool call it answers. Reasoning is kept for transparency
// but never sent back to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Streaming  bool       `json:"-"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments holds the raw
// accumulated text; it is valid JSON only once stream assembly completes.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Usage captures token counts reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCalls      EventType = "tool_calls"
	EventUsage          EventType = "usage"
	EventRetry          EventType = "retry"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event represents a streamed output update. Tool calls arrive as a single
// batch event once the stream ends, in ascending provider index order.
type Event struct {
	Type  EventType
	Text  string
	Tools []ToolCall
	Use   *Usage
	Err   error

	// Retry fields (for EventRetry)
	RetryAttempt  int
	RetryWaitSecs float64
}

func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now()}
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now()}
}

// ToolResultMessage creates a tool-role message answering the given call.
func ToolResultMessage(callID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Timestamp:  time.Now(),
	}
}
