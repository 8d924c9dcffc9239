package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "openai", Model: "gpt-5.2", Summary: "place a cube"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" {
		t.Fatal("no ID assigned")
	}

	sess.Name = "cube work"
	sess.UserTurns = 3
	if err := store.Update(ctx, sess); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "cube work" || got.UserTurns != 3 || got.Summary != "place a cube" {
		t.Errorf("got %+v", got)
	}

	// Prefix lookup resolves as long as it is unambiguous.
	if _, err := store.Get(ctx, sess.ID[:8]); err != nil {
		t.Errorf("prefix lookup: %v", err)
	}

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("list = %+v", list)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "local", Model: "studio-7b"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	msgs := []llm.Message{
		llm.UserText("add a light"),
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "scene_add", Arguments: `{"kind":"light"}`},
			},
		},
		llm.ToolResultMessage("c1", "added"),
		llm.AssistantText("A light has been added."),
	}
	for _, m := range msgs {
		if err := store.AppendMessage(ctx, sess.ID, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d messages, want %d", len(got), len(msgs))
	}
	for i, want := range msgs {
		if got[i].Role != want.Role || got[i].Content != want.Content || got[i].ToolCallID != want.ToolCallID {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want)
		}
	}
	if got[1].ToolCalls[0].Arguments != `{"kind":"light"}` {
		t.Errorf("tool call payload = %+v", got[1].ToolCalls)
	}
}

func TestDeleteCascadesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "openai", Model: "gpt-5.2"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(ctx, sess.ID, llm.UserText("hi")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	got, err := store.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("messages survived delete: %+v", got)
	}
}

func TestTruncateSummary(t *testing.T) {
	if got := TruncateSummary("  hello\nworld  "); got != "hello" {
		t.Errorf("got %q", got)
	}
	long := TruncateSummary(strings.Repeat("a", 120))
	if len(long) > 83 { // 79 bytes + multibyte ellipsis
		t.Errorf("not truncated: %q (%d bytes)", long, len(long))
	}
}
