package llm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends request and event records to a JSONL file. A nil
// *DebugLogger is valid and logs nothing, so callers never need to guard.
type DebugLogger struct {
	sessionID string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closed    bool
}

type debugLogEntry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
	Type      string `json:"type"`
}

type debugRequestEntry struct {
	debugLogEntry
	Provider string       `json:"provider"`
	Model    string       `json:"model,omitempty"`
	Request  debugRequest `json:"request"`
}

type debugRequest struct {
	Messages    []debugMessage `json:"messages"`
	Tools       []string       `json:"tools,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
	TopP        float32        `json:"top_p,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

type debugMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type debugEventEntry struct {
	debugLogEntry
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

// NewDebugLogger opens (appending) the JSONL log at path.
func NewDebugLogger(path, sessionID string) (*DebugLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

// LogRequest records an outbound request. Reasoning text is never logged.
func (l *DebugLogger) LogRequest(provider string, req Request) {
	if l == nil {
		return
	}
	msgs := make([]debugMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, debugMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	var tools []string
	for _, t := range req.Tools {
		tools = append(tools, t.Name)
	}
	l.writeEntry(debugRequestEntry{
		debugLogEntry: l.header("request"),
		Provider:      provider,
		Model:         req.Model,
		Request: debugRequest{
			Messages:    msgs,
			Tools:       tools,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
		},
	})
}

// LogEvent records a stream or session event with arbitrary data.
func (l *DebugLogger) LogEvent(eventType string, data any) {
	if l == nil {
		return
	}
	l.writeEntry(debugEventEntry{
		debugLogEntry: l.header("event"),
		EventType:     eventType,
		Data:          data,
	})
}

func (l *DebugLogger) header(typ string) debugLogEntry {
	return debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Type:      typ,
	}
}

func (l *DebugLogger) writeEntry(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.writer.Write(data)
	l.writer.WriteByte('\n')
	l.writer.Flush()
}

// Close flushes and closes the log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.writer.Flush()
	return l.file.Close()
}
