package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// httpClientTimeout bounds a whole streaming exchange, not individual chunks.
const httpClientTimeout = 10 * time.Minute

// sharedHTTPClient is used by every provider adapter.
var sharedHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// wireAdapter captures the only two points where providers differ: how the
// outbound request is built (auth header shape, body shape) and how an error
// body is turned into a message. Everything else (SSE parsing, tool-call
// assembly, thinking-tag filtering) is shared.
type wireAdapter interface {
	Name() string
	BuildRequest(ctx context.Context, req Request) (*http.Request, error)
	ParseError(statusCode int, body []byte) string
}

// Chat-completions wire structures.
type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type chatChunk struct {
	Choices []chatChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Error   *wireError   `json:"error,omitempty"`
}

type chatChoice struct {
	Delta        *chatDelta `json:"delta,omitempty"`
	Message      *chatDelta `json:"message,omitempty"`
	FinishReason string     `json:"finish_reason"`
}

type chatDelta struct {
	Content          string         `json:"content,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// buildWireMessages maps conversation messages to the wire shape. Reasoning
// text is intentionally dropped: it is never sent back to the model.
func buildWireMessages(messages []Message) []wireMessage {
	result := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser:
			if msg.Content == "" {
				continue
			}
			result = append(result, wireMessage{Role: string(msg.Role), Content: msg.Content})
		case RoleAssistant:
			wm := wireMessage{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				wc := wireToolCall{ID: call.ID, Type: "function"}
				wc.Function.Name = call.Name
				wc.Function.Arguments = call.Arguments
				wm.ToolCalls = append(wm.ToolCalls, wc)
			}
			if wm.Content == "" && len(wm.ToolCalls) == 0 {
				continue
			}
			result = append(result, wm)
		case RoleTool:
			result = append(result, wireMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return result
}

func buildWireTools(specs []ToolSpec) ([]wireTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]wireTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

// buildChatBody fills the request fields shared by all adapters. withModel
// controls whether the model-selection field is present in the body.
func buildChatBody(req Request, model string, withModel bool) (chatRequest, error) {
	tools, err := buildWireTools(req.Tools)
	if err != nil {
		return chatRequest{}, err
	}
	body := chatRequest{
		Messages: buildWireMessages(req.Messages),
		Tools:    tools,
		Stream:   true,
	}
	if len(body.Messages) == 0 {
		return chatRequest{}, fmt.Errorf("no messages provided")
	}
	if withModel {
		body.Model = model
	}
	if req.Temperature > 0 {
		v := float64(req.Temperature)
		body.Temperature = &v
	}
	if req.TopP > 0 {
		v := float64(req.TopP)
		body.TopP = &v
	}
	if req.MaxTokens > 0 {
		v := req.MaxTokens
		body.MaxTokens = &v
	}
	return body, nil
}

// toolCallAssembler reassembles tool calls that arrive fragmented across
// many deltas. Deltas for the same index are concatenated in arrival order;
// calls are emitted in ascending index order.
type toolCallAssembler struct {
	byIndex map[int]*toolCallParts
	order   []int
}

type toolCallParts struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{byIndex: make(map[int]*toolCallParts)}
}

func (a *toolCallAssembler) Add(calls []wireToolCall) {
	for _, call := range calls {
		parts, ok := a.byIndex[call.Index]
		if !ok {
			parts = &toolCallParts{}
			a.byIndex[call.Index] = parts
			a.order = append(a.order, call.Index)
		}
		if call.ID != "" {
			parts.id = call.ID
		}
		if call.Function.Name != "" {
			parts.name = call.Function.Name
		}
		if call.Function.Arguments != "" {
			parts.args.WriteString(call.Function.Arguments)
		}
	}
}

func (a *toolCallAssembler) Seen() bool {
	return len(a.order) > 0
}

// Calls finalizes assembly. Accumulated argument text that is not valid JSON
// means the stream was cut mid-fragment; that is an error, never a guess.
func (a *toolCallAssembler) Calls() ([]ToolCall, error) {
	if len(a.order) == 0 {
		return nil, nil
	}
	sort.Ints(a.order)
	calls := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		parts := a.byIndex[idx]
		args := parts.args.String()
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, fmt.Errorf("tool call %q: truncated arguments: %s", parts.name, args)
		}
		calls = append(calls, ToolCall{ID: parts.id, Name: parts.name, Arguments: args})
	}
	return calls, nil
}

// streamSSE issues one request through the adapter and consumes its SSE body
// incrementally. The returned Stream's Close aborts the request; no events
// are delivered after that.
func streamSSE(ctx context.Context, adapter wireAdapter, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		httpReq, err := adapter.BuildRequest(ctx, req)
		if err != nil {
			return err
		}

		resp, err := sharedHTTPClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%s request failed: %w", adapter.Name(), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			return fmt.Errorf("%s API error (status %d): %s",
				adapter.Name(), resp.StatusCode, adapter.ParseError(resp.StatusCode, body))
		}

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		assembler := newToolCallAssembler()
		filter := newThinkTagFilter()
		var lastUsage *Usage

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return fmt.Errorf("%s: malformed stream data: %w", adapter.Name(), err)
			}
			if chunk.Error != nil {
				return fmt.Errorf("%s API error: %s", adapter.Name(), chunk.Error.Message)
			}
			if chunk.Usage != nil {
				lastUsage = &Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			for _, choice := range chunk.Choices {
				delta := choice.Delta
				if delta == nil {
					delta = choice.Message
				}
				if delta == nil {
					continue
				}
				if len(delta.ToolCalls) > 0 {
					assembler.Add(delta.ToolCalls)
				}
				if delta.ReasoningContent != "" {
					events <- Event{Type: EventReasoningDelta, Text: delta.ReasoningContent}
				}
				if delta.Content != "" {
					content, reasoning := filter.Add(delta.Content)
					if reasoning != "" {
						events <- Event{Type: EventReasoningDelta, Text: reasoning}
					}
					// Once the provider starts a tool invocation, this turn
					// is tool-only; stray content deltas are suppressed.
					if content != "" && !assembler.Seen() {
						events <- Event{Type: EventTextDelta, Text: content}
					}
				}
			}
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s streaming error: %w", adapter.Name(), err)
		}
		content, reasoning := filter.Flush()
		if filter.Unterminated() {
			return fmt.Errorf("%s: stream ended inside a thinking tag", adapter.Name())
		}
		if reasoning != "" {
			events <- Event{Type: EventReasoningDelta, Text: reasoning}
		}
		if content != "" && !assembler.Seen() {
			events <- Event{Type: EventTextDelta, Text: content}
		}

		calls, err := assembler.Calls()
		if err != nil {
			return fmt.Errorf("%s: %w", adapter.Name(), err)
		}
		if len(calls) > 0 {
			events <- Event{Type: EventToolCalls, Tools: calls}
		}
		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}
