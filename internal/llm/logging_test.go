package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func openTestLogger(t *testing.T) (*DebugLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := NewDebugLogger(path, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, path
}

func readLogLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("malformed log line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestLoggingProviderRecordsRequestAndEvents(t *testing.T) {
	logger, path := openTestLogger(t)

	inner := &scriptableProvider{}
	p := NewLoggingProvider(inner, logger)
	s, err := p.Stream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := collectEvents(t, s); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	lines := readLogLines(t, path)
	if len(lines) == 0 || lines[0]["type"] != "request" {
		t.Fatalf("log lines = %+v", lines)
	}
	if lines[0]["session_id"] != "sess-1" {
		t.Errorf("session id = %v", lines[0]["session_id"])
	}
}

func TestLoggingStreamHandlesNilErrorEvent(t *testing.T) {
	logger, path := openTestLogger(t)

	inner := &scriptedEventsProvider{events: []Event{
		{Type: EventError}, // no Err attached
		{Type: EventDone},
	}}
	p := NewLoggingProvider(inner, logger)
	s, err := p.Stream(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for {
		if _, err := s.Recv(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Recv: %v", err)
		}
	}
	s.Close()

	var sawError bool
	for _, line := range readLogLines(t, path) {
		if line["event_type"] == string(EventError) {
			sawError = true
		}
	}
	if !sawError {
		t.Error("error event not logged")
	}
}

// scriptedEventsProvider replays a fixed event list through one stream.
type scriptedEventsProvider struct {
	events []Event
}

func (p *scriptedEventsProvider) Name() string { return "scripted-events" }

func (p *scriptedEventsProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for _, ev := range p.events {
			events <- ev
		}
		return nil
	}), nil
}
