package chat

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

const summaryPrompt = `You are summarizing an earlier portion of a conversation so it can be
compacted. Produce a dense summary that preserves: user goals and
constraints, decisions made, names of scenes, assets and files discussed,
tool calls and their outcomes, and any unresolved questions. Write plain
prose, no preamble.`

const summaryMaxTokens = 1024

// maybeSummarize compacts older history when estimated context utilization
// crosses the configured threshold. At most one summarization runs at a
// time; a check arriving mid-flight queues behind the mutex and re-reads
// utilization afterward. A failed summarization leaves history untouched so
// the next over-budget check can retry.
func (s *Session) maybeSummarize(ctx context.Context, gen uint64) {
	s.summarizeMu.Lock()
	defer s.summarizeMu.Unlock()

	budget := s.tokenBudget()
	threshold := s.cfg.Chat.SummarizeThreshold
	keep := s.cfg.Chat.KeepRecentMessages
	if budget <= 0 || threshold <= 0 {
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	current := estimateMessages(s.estimator, s.messages)
	if p := s.cfg.Chat.SystemPrompt; p != "" {
		current += s.estimator.EstimateText(p)
	}
	if float64(current)/float64(budget) < threshold {
		s.mu.Unlock()
		return
	}
	// Fold any previous summary into the new one instead of stacking them.
	start := 0
	if s.summarizedUpTo > 0 {
		start = s.summarizedUpTo - 1
	}
	// The newest message is the user turn that triggered this check; the
	// keep window counts the messages before it.
	end := len(s.messages) - 1 - keep
	if end <= start {
		s.mu.Unlock()
		return
	}
	candidates := make([]llm.Message, end-start)
	copy(candidates, s.messages[start:end])
	s.mu.Unlock()

	s.notifier.SummarizationStarted()

	text, err := s.summarize(ctx, candidates)
	if err != nil || strings.TrimSpace(text) == "" {
		s.notifier.SummarizationComplete(false)
		return
	}

	s.mu.Lock()
	// History may have been reset or cancelled while we were away.
	if s.gen != gen || len(s.messages) < end {
		s.mu.Unlock()
		s.notifier.SummarizationComplete(false)
		return
	}
	summaryMsg := llm.SystemText("Summary of the conversation so far:\n\n" + strings.TrimSpace(text))
	rebuilt := make([]llm.Message, 0, start+1+len(s.messages)-end)
	rebuilt = append(rebuilt, s.messages[:start]...)
	rebuilt = append(rebuilt, summaryMsg)
	rebuilt = append(rebuilt, s.messages[end:]...)
	s.messages = rebuilt
	s.summarizedUpTo = start + 1
	s.mu.Unlock()

	s.notifier.SummarizationComplete(true)
}

// summarize sends the selected range to the model with the summarization
// prompt and collects the streamed text.
func (s *Session) summarize(ctx context.Context, msgs []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		for _, call := range m.ToolCalls {
			fmt.Fprintf(&transcript, "%s called tool %s(%s)\n", m.Role, call.Name, call.Arguments)
		}
		transcript.WriteString("\n")
	}

	req := llm.Request{
		Messages: []llm.Message{
			llm.SystemText(summaryPrompt),
			llm.UserText(transcript.String()),
		},
		Temperature: 0.2,
		MaxTokens:   summaryMaxTokens,
	}
	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch ev.Type {
		case llm.EventTextDelta:
			out.WriteString(ev.Text)
		case llm.EventError:
			return "", ev.Err
		}
	}
	return out.String(), nil
}
