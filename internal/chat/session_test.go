package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solsticeworks/scene-pilot/internal/config"
	"github.com/solsticeworks/scene-pilot/internal/llm"
	"github.com/solsticeworks/scene-pilot/internal/testutil"
	"github.com/solsticeworks/scene-pilot/internal/toolserver"
)

func testConfig() *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{
			Temperature:        0.7,
			MaxOutputTokens:    1024,
			ContextLength:      128000,
			ReservedTokens:     8192,
			MaxToolIterations:  10,
			SummarizeThreshold: 0.8,
			KeepRecentMessages: 4,
		},
	}
}

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	NoopNotifier
	mu        sync.Mutex
	added     []int
	updated   []int
	errors    []string
	resets    int
	toolCalls []llm.ToolCall
	sumStart  int
	sumDone   []bool
	budgets   []float64
}

func (n *recordingNotifier) MessageAdded(idx int, _ llm.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, idx)
}

func (n *recordingNotifier) MessageUpdated(idx int, _ llm.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, idx)
}

func (n *recordingNotifier) ChatError(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, text)
}

func (n *recordingNotifier) ChatReset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets++
}

func (n *recordingNotifier) ToolCallStarted(call llm.ToolCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toolCalls = append(n.toolCalls, call)
}

func (n *recordingNotifier) SummarizationStarted() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sumStart++
}

func (n *recordingNotifier) SummarizationComplete(ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sumDone = append(n.sumDone, ok)
}

func (n *recordingNotifier) TokenBudgetUpdated(_, _ int, pct float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.budgets = append(n.budgets, pct)
}

func (n *recordingNotifier) eventCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.added) + len(n.updated) + len(n.errors) + len(n.toolCalls)
}

func TestSendMessagePlainText(t *testing.T) {
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.TextScript("Hello", " there"),
	}}
	notif := &recordingNotifier{}
	sess := NewSession(provider, nil, testConfig(), notif)

	if err := sess.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != "Hello there" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[1].Streaming {
		t.Error("assistant message still marked streaming")
	}
	if sess.State() != StateIdle {
		t.Errorf("state = %s, want idle", sess.State())
	}
	if got := len(notif.budgets); got != 1 {
		t.Errorf("budget notifications = %d, want 1", got)
	}
}

func TestReasoningStaysOutOfContent(t *testing.T) {
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{{
		{Type: llm.EventReasoningDelta, Text: "pondering"},
		{Type: llm.EventTextDelta, Text: "answer"},
		{Type: llm.EventDone},
	}}}
	sess := NewSession(provider, nil, testConfig(), nil)

	if err := sess.SendMessage(context.Background(), "q"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs := sess.Messages()
	last := msgs[len(msgs)-1]
	if last.Content != "answer" {
		t.Errorf("content = %q", last.Content)
	}
	if last.Reasoning != "pondering" {
		t.Errorf("reasoning = %q", last.Reasoning)
	}
}

func TestToolCallRoundThenAnswer(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`}
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.ToolCallScript(call),
		testutil.TextScript("3"),
	}}
	dispatcher := &testutil.MockDispatcher{
		Tools: []llm.ToolSpec{{Name: "add"}},
		ExecuteFn: func(_ context.Context, _ llm.ToolCall) toolserver.Result {
			return toolserver.Result{Content: "3"}
		},
	}
	notif := &recordingNotifier{}
	sess := NewSession(provider, dispatcher, testConfig(), notif)

	if err := sess.SendMessage(context.Background(), "add 1 and 2"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := sess.Messages()
	// user, assistant(tool_calls), tool result, assistant answer
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "c1" {
		t.Errorf("assistant tool calls = %+v", msgs[1].ToolCalls)
	}
	if msgs[2].Role != llm.RoleTool || msgs[2].ToolCallID != "c1" || msgs[2].Content != "3" {
		t.Errorf("tool result = %+v", msgs[2])
	}
	if msgs[3].Content != "3" {
		t.Errorf("final answer = %q", msgs[3].Content)
	}
	if dispatcher.CallCount() != 1 {
		t.Errorf("dispatched %d calls, want 1", dispatcher.CallCount())
	}
	if len(notif.toolCalls) != 1 {
		t.Errorf("tool call notifications = %d, want 1", len(notif.toolCalls))
	}
	// Second request carries the tool transcript.
	second := provider.Requests[1]
	if len(second.Messages) < 3 {
		t.Fatalf("follow-up request has %d messages", len(second.Messages))
	}
}

func TestToolResultsAppendInIssueOrder(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "slow", Name: "lookup", Arguments: "{}"},
		{ID: "fast", Name: "lookup", Arguments: "{}"},
	}
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.ToolCallScript(calls...),
		testutil.TextScript("done"),
	}}
	dispatcher := &testutil.MockDispatcher{
		Tools: []llm.ToolSpec{{Name: "lookup"}},
		ExecuteFn: func(_ context.Context, call llm.ToolCall) toolserver.Result {
			if call.ID == "slow" {
				time.Sleep(50 * time.Millisecond)
			}
			return toolserver.Result{Content: call.ID}
		},
	}
	sess := NewSession(provider, dispatcher, testConfig(), nil)

	if err := sess.SendMessage(context.Background(), "go"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := sess.Messages()
	var toolResults []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			toolResults = append(toolResults, m)
		}
	}
	if len(toolResults) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(toolResults))
	}
	if toolResults[0].ToolCallID != "slow" || toolResults[1].ToolCallID != "fast" {
		t.Errorf("results out of issue order: %q then %q",
			toolResults[0].ToolCallID, toolResults[1].ToolCallID)
	}
}

func TestIterationCapForcesPlainText(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.MaxToolIterations = 2

	call := func(id string) llm.ToolCall {
		return llm.ToolCall{ID: id, Name: "lookup", Arguments: "{}"}
	}
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.ToolCallScript(call("c1")),
		testutil.ToolCallScript(call("c2")),
		testutil.TextScript("forced answer"),
	}}
	dispatcher := &testutil.MockDispatcher{Tools: []llm.ToolSpec{{Name: "lookup"}}}
	sess := NewSession(provider, dispatcher, cfg, nil)

	if err := sess.SendMessage(context.Background(), "look things up forever"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if provider.RequestCount() != 3 {
		t.Fatalf("expected 3 requests, got %d", provider.RequestCount())
	}
	if len(provider.Requests[0].Tools) == 0 || len(provider.Requests[1].Tools) == 0 {
		t.Error("first two requests should include tools")
	}
	if len(provider.Requests[2].Tools) != 0 {
		t.Error("request at the iteration cap must omit tools")
	}
	if dispatcher.CallCount() != 2 {
		t.Errorf("dispatched %d calls, want 2", dispatcher.CallCount())
	}
}

func TestIterationCapTerminatesStubbornModel(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.MaxToolIterations = 2

	// The model keeps issuing tool calls even on the capped request that
	// carries no tools. The loop must still end after that request.
	call := func(id string) llm.ToolCall {
		return llm.ToolCall{ID: id, Name: "lookup", Arguments: "{}"}
	}
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.ToolCallScript(call("c1")),
		testutil.ToolCallScript(call("c2")),
		testutil.ToolCallScript(call("c3")),
	}}
	dispatcher := &testutil.MockDispatcher{Tools: []llm.ToolSpec{{Name: "lookup"}}}
	sess := NewSession(provider, dispatcher, cfg, nil)

	done := make(chan error, 1)
	go func() { done <- sess.SendMessage(context.Background(), "go") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not terminate at the iteration cap")
	}

	if provider.RequestCount() != 3 {
		t.Fatalf("expected 3 requests, got %d", provider.RequestCount())
	}
	// Only the two under-cap batches get dispatched; the batch from the
	// tool-less capped request is discarded.
	if dispatcher.CallCount() != 2 {
		t.Errorf("dispatched %d calls, want 2", dispatcher.CallCount())
	}
	toolResults := 0
	for _, m := range sess.Messages() {
		if m.Role == llm.RoleTool {
			toolResults++
		}
	}
	if toolResults != 2 {
		t.Errorf("tool result messages = %d, want 2", toolResults)
	}
	if sess.State() != StateIdle {
		t.Errorf("state = %s, want idle", sess.State())
	}
}

func TestStreamErrorKeepsHistory(t *testing.T) {
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{{
		{Type: llm.EventTextDelta, Text: "partial"},
		{Type: llm.EventError, Err: errors.New("boom")},
	}}}
	notif := &recordingNotifier{}
	sess := NewSession(provider, nil, testConfig(), notif)

	err := sess.SendMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if sess.State() != StateIdle {
		t.Errorf("state = %s, want idle", sess.State())
	}
	if len(notif.errors) != 1 || !strings.Contains(notif.errors[0], "boom") {
		t.Errorf("chat error notifications = %v", notif.errors)
	}
	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[1].Content != "partial" {
		t.Errorf("history after error = %+v", msgs)
	}
}

func TestSendWhileBusyRejected(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	sess := NewSession(provider, nil, testConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- sess.SendMessage(context.Background(), "first") }()
	<-provider.started

	if err := sess.SendMessage(context.Background(), "second"); err == nil {
		t.Error("expected busy error")
	}

	sess.CancelRequest()
	if err := <-done; err != nil {
		t.Fatalf("cancelled send returned error: %v", err)
	}
}

func TestCancelStopsNotifications(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	notif := &recordingNotifier{}
	sess := NewSession(provider, nil, testConfig(), notif)

	done := make(chan error, 1)
	go func() { done <- sess.SendMessage(context.Background(), "hi") }()
	<-provider.started

	sess.CancelRequest()
	if err := <-done; err != nil {
		t.Fatalf("cancelled send returned error: %v", err)
	}
	if sess.State() != StateIdle {
		t.Errorf("state = %s, want idle", sess.State())
	}

	count := notif.eventCount()
	time.Sleep(20 * time.Millisecond)
	if notif.eventCount() != count {
		t.Error("notifications fired after cancellation")
	}
	if len(notif.errors) != 0 {
		t.Errorf("cancellation must not surface as chat error, got %v", notif.errors)
	}
	// Content streamed before the cancel stays.
	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Hel" {
		t.Errorf("history after cancel = %+v", msgs)
	}
}

func TestResetChatClearsEverything(t *testing.T) {
	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.TextScript("hello"),
	}}
	notif := &recordingNotifier{}
	sess := NewSession(provider, nil, testConfig(), notif)

	if err := sess.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sess.Usage().Requests != 1 {
		t.Fatalf("usage requests = %d", sess.Usage().Requests)
	}

	sess.ResetChat()

	if len(sess.Messages()) != 0 {
		t.Error("messages not cleared")
	}
	if sess.Usage() != (UsageStats{}) {
		t.Error("usage not cleared")
	}
	if notif.resets != 1 {
		t.Errorf("reset notifications = %d, want 1", notif.resets)
	}
}

func TestBuildAPIMessagesTrailingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.ContextLength = 60
	cfg.Chat.ReservedTokens = 10
	cfg.Chat.SummarizeThreshold = 0 // keep summarization out of this test

	provider := &testutil.MockProvider{Scripts: [][]llm.Event{
		testutil.TextScript("ok"),
	}}
	sess := NewSession(provider, nil, cfg, nil)

	big := strings.Repeat("x", 400)
	if err := sess.LoadHistory([]llm.Message{
		llm.UserText(big),
		llm.AssistantText(big),
		llm.UserText("recent question"),
	}); err != nil {
		t.Fatal(err)
	}

	if err := sess.SendMessage(context.Background(), "latest"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	sent := provider.Requests[0].Messages
	for _, m := range sent {
		if m.Content == big {
			t.Error("over-budget message included in request window")
		}
	}
	if len(sent) == 0 || sent[len(sent)-1].Content != "latest" {
		t.Errorf("newest message missing from window: %+v", sent)
	}
}

// blockingProvider streams a short prefix, signals, then blocks until the
// request context is cancelled.
type blockingProvider struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Stream(ctx context.Context, _ llm.Request) (llm.Stream, error) {
	return &blockingStream{ctx: ctx, provider: p}, nil
}

type blockingStream struct {
	ctx      context.Context
	provider *blockingProvider
	sent     bool
}

func (s *blockingStream) Recv() (llm.Event, error) {
	if !s.sent {
		s.sent = true
		return llm.Event{Type: llm.EventTextDelta, Text: "Hel"}, nil
	}
	s.provider.once.Do(func() { close(s.provider.started) })
	<-s.ctx.Done()
	return llm.Event{}, s.ctx.Err()
}

func (s *blockingStream) Close() error { return nil }
