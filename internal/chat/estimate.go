package chat

import (
	"unicode/utf8"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

// TokenEstimator approximates how many tokens a message costs against the
// model's context window. Estimates are deliberately coarse: there is no
// real tokenizer here, only a safety heuristic, so budgeting decisions built
// on it are approximate by design.
type TokenEstimator interface {
	EstimateText(text string) int
	EstimateMessage(msg llm.Message) int
}

// perMessageOverhead covers role framing and separators the wire format
// adds around each message.
const perMessageOverhead = 4

// HeuristicEstimator is the default character-count estimator. It slightly
// over-estimates so budget thresholds trip early rather than late.
type HeuristicEstimator struct{}

func (HeuristicEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	// BPE tokenizers land around 3-4 chars per token for English-ish text.
	// runes/2 over-counts plain ASCII so thresholds trip early; bytes/3
	// takes over for multi-byte text.
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byRunes > byBytes {
		return byRunes
	}
	return byBytes
}

func (e HeuristicEstimator) EstimateMessage(msg llm.Message) int {
	n := perMessageOverhead + e.EstimateText(msg.Content)
	for _, call := range msg.ToolCalls {
		n += perMessageOverhead + e.EstimateText(call.Name) + e.EstimateText(call.Arguments)
	}
	return n
}

func estimateMessages(est TokenEstimator, msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += est.EstimateMessage(m)
	}
	return total
}
