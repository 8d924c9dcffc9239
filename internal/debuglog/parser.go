// Package debuglog reads the JSONL request/event log written by the llm
// package, for the debug CLI command.
package debuglog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Entry is one parsed log line. Raw keeps the original JSON for verbose
// output.
type Entry struct {
	Timestamp time.Time
	SessionID string
	Type      string // "request" or "event"
	Provider  string
	Model     string
	EventType string
	Messages  int // message count, request entries only
	Tools     int
	Raw       json.RawMessage
}

type rawEntry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	EventType string `json:"event_type"`
	Request   *struct {
		Messages []json.RawMessage `json:"messages"`
		Tools    []string          `json:"tools"`
	} `json:"request"`
}

// ParseFile reads every well-formed entry from the log at path. Malformed
// lines are skipped, not fatal: the log may be mid-write.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var raw rawEntry
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, raw.Timestamp)
		entry := Entry{
			Timestamp: ts,
			SessionID: raw.SessionID,
			Type:      raw.Type,
			Provider:  raw.Provider,
			Model:     raw.Model,
			EventType: raw.EventType,
			Raw:       append(json.RawMessage(nil), line...),
		}
		if raw.Request != nil {
			entry.Messages = len(raw.Request.Messages)
			entry.Tools = len(raw.Request.Tools)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read debug log: %w", err)
	}
	return entries, nil
}
