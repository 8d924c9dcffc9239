package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

func TestHistoryRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful", Timestamp: ts},
		{Role: llm.RoleUser, Content: "place a cube", Timestamp: ts.Add(time.Second)},
		{
			Role:      llm.RoleAssistant,
			Reasoning: "needs the scene tool",
			Timestamp: ts.Add(2 * time.Second),
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "scene_add", Arguments: `{"shape":"cube"}`},
			},
		},
		{Role: llm.RoleTool, Content: "added", ToolCallID: "c1", Timestamp: ts.Add(3 * time.Second)},
		{Role: llm.RoleAssistant, Content: "Done.", Timestamp: ts.Add(4 * time.Second)},
	}

	data, err := MarshalHistory("gpt-5.2", msgs)
	if err != nil {
		t.Fatal(err)
	}

	model, got, err := UnmarshalHistory(data)
	if err != nil {
		t.Fatal(err)
	}
	if model != "gpt-5.2" {
		t.Errorf("lastModel = %q", model)
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d messages, want %d", len(got), len(msgs))
	}
	for i, want := range msgs {
		g := got[i]
		if g.Role != want.Role || g.Content != want.Content || g.Reasoning != want.Reasoning ||
			g.ToolCallID != want.ToolCallID || !g.Timestamp.Equal(want.Timestamp) {
			t.Errorf("message %d = %+v, want %+v", i, g, want)
		}
		if len(g.ToolCalls) != len(want.ToolCalls) {
			t.Errorf("message %d tool calls = %+v", i, g.ToolCalls)
			continue
		}
		for j := range want.ToolCalls {
			if g.ToolCalls[j] != want.ToolCalls[j] {
				t.Errorf("message %d call %d = %+v, want %+v", i, j, g.ToolCalls[j], want.ToolCalls[j])
			}
		}
	}
}

func TestHistoryVersionCheck(t *testing.T) {
	_, _, err := UnmarshalHistory([]byte(`{"version":99,"messages":[]}`))
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("expected version error, got %v", err)
	}
}

func TestHistoryRejectsGarbage(t *testing.T) {
	if _, _, err := UnmarshalHistory([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestHeuristicEstimatorBounds(t *testing.T) {
	est := HeuristicEstimator{}
	if got := est.EstimateText(""); got != 0 {
		t.Errorf("empty text = %d", got)
	}
	// For ASCII the runes/2 bound dominates bytes/3, overcounting on purpose.
	if got := est.EstimateText(strings.Repeat("a", 300)); got != 150 {
		t.Errorf("300 chars = %d, want 150", got)
	}
	// Multibyte text is counted by the bytes/3 bound.
	text := strings.Repeat("é", 30) // 60 bytes, 30 runes
	if got := est.EstimateText(text); got != 20 {
		t.Errorf("multibyte = %d, want 20", got)
	}
}
