package debuglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleLog = `{"timestamp":"2026-08-29T10:00:00.000Z","session_id":"s1","type":"request","provider":"openai","model":"gpt-5.2","request":{"messages":[{"role":"user","content":"hi"}],"tools":["scene_add"]}}
not json at all
{"timestamp":"2026-08-29T10:00:01.000Z","session_id":"s1","type":"event","event_type":"tool_calls"}
`

func TestParseFileSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.jsonl")
	if err := os.WriteFile(path, []byte(sampleLog), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	req := entries[0]
	if req.Type != "request" || req.Provider != "openai" || req.Messages != 1 || req.Tools != 1 {
		t.Errorf("request entry = %+v", req)
	}
	if entries[1].EventType != "tool_calls" {
		t.Errorf("event entry = %+v", entries[1])
	}
}

func TestFormatTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.jsonl")
	if err := os.WriteFile(path, []byte(sampleLog), 0o600); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	Format(&out, entries, FormatOptions{Tail: 1})
	got := out.String()
	if strings.Contains(got, "request") || !strings.Contains(got, "tool_calls") {
		t.Errorf("tail output = %q", got)
	}
}
