package chat

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/solsticeworks/scene-pilot/internal/config"
	"github.com/solsticeworks/scene-pilot/internal/llm"
	"github.com/solsticeworks/scene-pilot/internal/toolserver"
)

// State is the session's current position in the request lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingResponse   State = "awaiting_response"
	StateStreamingContent   State = "streaming_content"
	StateStreamingToolCalls State = "streaming_tool_calls"
	StateAwaitingFollowUp   State = "awaiting_follow_up"
)

// ToolDispatcher routes assembled tool calls to their servers. It is
// satisfied by toolserver.Manager.
type ToolDispatcher interface {
	AllTools() []llm.ToolSpec
	ExecuteTool(ctx context.Context, call llm.ToolCall) toolserver.Result
}

// UsageStats accumulates token usage across requests. Counters are
// monotonic until ResetChat.
type UsageStats struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Requests         int
}

// Session drives a multi-turn conversation: it owns the message history,
// runs the request/tool loop for each user message, and reports progress
// through its Notifier. History is mutated only by the session itself;
// at most one request is in flight at a time.
type Session struct {
	provider  llm.Provider
	tools     ToolDispatcher
	cfg       *config.Config
	notifier  Notifier
	estimator TokenEstimator

	mu             sync.Mutex
	state          State
	messages       []llm.Message
	summarizedUpTo int // index just past the summary message, 0 when none
	toolIterations int
	usage          UsageStats
	cancel         context.CancelFunc
	gen            uint64 // request generation, bumped on send/cancel

	// Serializes summarization so concurrent budget checks queue instead
	// of double-summarizing.
	summarizeMu sync.Mutex
}

// NewSession creates a session. tools may be a nil interface when no
// servers are configured; notifier may be nil for a silent session.
func NewSession(provider llm.Provider, tools ToolDispatcher, cfg *config.Config, notifier Notifier) *Session {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Session{
		provider:  provider,
		tools:     tools,
		cfg:       cfg,
		notifier:  notifier,
		estimator: HeuristicEstimator{},
		state:     StateIdle,
	}
}

// SetEstimator replaces the token estimator. Must be called before the
// first SendMessage.
func (s *Session) SetEstimator(est TokenEstimator) {
	if est != nil {
		s.estimator = est
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the conversation history.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Usage returns accumulated usage stats.
func (s *Session) Usage() UsageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// LoadHistory replaces the conversation history, for resuming a saved
// session. Only valid while Idle.
func (s *Session) LoadHistory(msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("cannot load history while a request is in flight")
	}
	s.messages = make([]llm.Message, len(msgs))
	copy(s.messages, msgs)
	s.summarizedUpTo = 0
	for i, m := range s.messages {
		if m.Role == llm.RoleSystem && i == 0 {
			s.summarizedUpTo = 1
		}
	}
	return nil
}

// SendMessage appends a user message and runs the full request loop,
// including any tool-call rounds, until the model produces a plain-text
// turn or an error occurs. It blocks until the turn completes; callers
// wanting concurrency run it in a goroutine and use CancelRequest.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("a request is already in progress")
	}
	s.gen++
	gen := s.gen
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.toolIterations = 0
	s.state = StateAwaitingResponse
	userMsg := llm.UserText(text)
	s.messages = append(s.messages, userMsg)
	idx := len(s.messages) - 1
	s.mu.Unlock()

	s.notifier.MessageAdded(idx, userMsg)

	defer func() {
		cancel()
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateIdle
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	s.maybeSummarize(reqCtx, gen)

	return s.runLoop(reqCtx, gen)
}

// CancelRequest aborts the in-flight request, if any. The session returns
// to Idle and emits no further notifications for the cancelled request;
// content that already streamed stays in history.
func (s *Session) CancelRequest() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	s.state = StateIdle
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ResetChat cancels any in-flight request, then clears history, the
// summary marker and usage stats.
func (s *Session) ResetChat() {
	s.CancelRequest()
	s.mu.Lock()
	s.messages = nil
	s.summarizedUpTo = 0
	s.toolIterations = 0
	s.usage = UsageStats{}
	s.mu.Unlock()
	s.notifier.ChatReset()
}

func (s *Session) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) tokenBudget() int {
	return s.cfg.Chat.ContextLength - s.cfg.Chat.ReservedTokens
}

// runLoop issues requests until the model answers without tool calls.
// Each tool-call batch counts one iteration; at the cap, tools are omitted
// from the follow-up request so the model must answer in plain text.
func (s *Session) runLoop(ctx context.Context, gen uint64) error {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return nil
		}
		s.state = StateAwaitingResponse
		withTools := s.tools != nil && s.toolIterations < s.cfg.Chat.MaxToolIterations
		req := llm.Request{
			Messages:    s.buildAPIMessagesLocked(),
			Temperature: s.cfg.Chat.Temperature,
			TopP:        s.cfg.Chat.TopP,
			MaxTokens:   s.cfg.Chat.MaxOutputTokens,
		}
		s.mu.Unlock()
		if withTools {
			req.Tools = s.tools.AllTools()
		}

		batch, err := s.streamOnce(ctx, gen, req)
		if err != nil {
			if !s.live(gen) {
				return nil
			}
			s.notifier.ChatError(err.Error())
			return err
		}
		if !s.live(gen) {
			return nil
		}
		s.reportBudget()

		if len(batch) == 0 {
			return nil
		}
		if !withTools {
			// The request carried no tools, so a batch the model produced
			// anyway cannot be dispatched. End the turn instead of looping.
			fmt.Fprintf(os.Stderr, "chat: discarding %d tool call(s) issued after the iteration cap\n", len(batch))
			return nil
		}

		if err := s.executeBatch(ctx, gen, batch); err != nil {
			return nil
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return nil
		}
		s.toolIterations++
		s.state = StateAwaitingFollowUp
		s.mu.Unlock()
	}
}

// streamOnce runs a single provider request to completion and returns the
// tool-call batch, if any.
func (s *Session) streamOnce(ctx context.Context, gen uint64, req llm.Request) ([]llm.ToolCall, error) {
	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	asstIdx := -1
	var batch []llm.ToolCall

recv:
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case llm.EventTextDelta:
			if !s.applyDelta(gen, &asstIdx, StateStreamingContent, func(m *llm.Message) {
				m.Content += ev.Text
			}) {
				return nil, context.Canceled
			}
		case llm.EventReasoningDelta:
			if !s.applyDelta(gen, &asstIdx, StateStreamingContent, func(m *llm.Message) {
				m.Reasoning += ev.Text
			}) {
				return nil, context.Canceled
			}
		case llm.EventToolCalls:
			batch = ev.Tools
			if !s.applyDelta(gen, &asstIdx, StateStreamingToolCalls, func(m *llm.Message) {
				m.ToolCalls = ev.Tools
			}) {
				return nil, context.Canceled
			}
		case llm.EventUsage:
			s.mu.Lock()
			if s.gen == gen && ev.Use != nil {
				s.usage.PromptTokens += ev.Use.PromptTokens
				s.usage.CompletionTokens += ev.Use.CompletionTokens
				s.usage.TotalTokens += ev.Use.TotalTokens
			}
			s.mu.Unlock()
		case llm.EventRetry:
			if s.live(gen) {
				s.notifier.RetryScheduled(ev.RetryAttempt, ev.RetryWaitSecs)
			}
		case llm.EventError:
			return nil, ev.Err
		case llm.EventDone:
			break recv
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, context.Canceled
	}
	s.usage.Requests++
	var snapshot llm.Message
	if asstIdx >= 0 {
		s.messages[asstIdx].Streaming = false
		snapshot = s.messages[asstIdx]
	}
	s.mu.Unlock()
	if asstIdx >= 0 {
		s.notifier.MessageUpdated(asstIdx, snapshot)
	}
	return batch, nil
}

// applyDelta mutates the streaming assistant message under the lock,
// creating it on the first delta, and fires the matching notification.
// Returns false when the request generation has been superseded.
func (s *Session) applyDelta(gen uint64, asstIdx *int, state State, mutate func(*llm.Message)) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	added := false
	if *asstIdx < 0 {
		s.messages = append(s.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Timestamp: time.Now(),
			Streaming: true,
		})
		*asstIdx = len(s.messages) - 1
		added = true
	}
	s.state = state
	mutate(&s.messages[*asstIdx])
	idx := *asstIdx
	snapshot := s.messages[idx]
	s.mu.Unlock()

	if added {
		s.notifier.MessageAdded(idx, snapshot)
	} else {
		s.notifier.MessageUpdated(idx, snapshot)
	}
	return true
}

// executeBatch dispatches every call concurrently but appends results in
// the order the calls were issued, keeping the transcript deterministic.
func (s *Session) executeBatch(ctx context.Context, gen uint64, batch []llm.ToolCall) error {
	for _, call := range batch {
		if !s.live(gen) {
			return context.Canceled
		}
		s.notifier.ToolCallStarted(call)
	}

	results := make([]toolserver.Result, len(batch))
	var wg sync.WaitGroup
	for i, call := range batch {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			if s.tools == nil {
				results[i] = toolserver.Result{Content: "Error: no tool servers configured", IsError: true}
				return
			}
			results[i] = s.tools.ExecuteTool(ctx, call)
		}(i, call)
	}
	wg.Wait()

	for i, call := range batch {
		res := results[i]
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return context.Canceled
		}
		msg := llm.ToolResultMessage(call.ID, res.Content)
		s.messages = append(s.messages, msg)
		idx := len(s.messages) - 1
		s.mu.Unlock()

		s.notifier.ToolCallFinished(call, res)
		s.notifier.MessageAdded(idx, msg)
	}
	return nil
}

// buildAPIMessagesLocked assembles the outbound message list: the system
// prompt, the pinned summary message when one exists, then the longest
// trailing window of history that fits the token budget. The newest
// message is always included even when over budget. Caller holds s.mu.
func (s *Session) buildAPIMessagesLocked() []llm.Message {
	budget := s.tokenBudget()
	var out []llm.Message

	if p := s.cfg.Chat.SystemPrompt; p != "" {
		sys := llm.SystemText(p)
		out = append(out, sys)
		budget -= s.estimator.EstimateMessage(sys)
	}

	start := 0
	if s.summarizedUpTo > 0 && s.summarizedUpTo <= len(s.messages) {
		pinned := s.messages[s.summarizedUpTo-1]
		out = append(out, pinned)
		budget -= s.estimator.EstimateMessage(pinned)
		start = s.summarizedUpTo
	}

	i := len(s.messages)
	total := 0
	for i > start {
		cost := s.estimator.EstimateMessage(s.messages[i-1])
		if total+cost > budget {
			break
		}
		total += cost
		i--
	}
	if i == len(s.messages) && i > start {
		i-- // newest message always goes
	}
	// A tool result without its requesting assistant message is rejected
	// by the API, so trim orphans off the front of the window.
	for i < len(s.messages) && s.messages[i].Role == llm.RoleTool {
		i++
	}

	return append(out, s.messages[i:]...)
}

func (s *Session) reportBudget() {
	s.mu.Lock()
	current := estimateMessages(s.estimator, s.messages)
	if p := s.cfg.Chat.SystemPrompt; p != "" {
		current += s.estimator.EstimateText(p)
	}
	s.mu.Unlock()

	max := s.tokenBudget()
	pct := 0.0
	if max > 0 {
		pct = float64(current) / float64(max)
	}
	s.notifier.TokenBudgetUpdated(current, max, pct)
}
