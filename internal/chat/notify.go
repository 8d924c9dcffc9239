package chat

import (
	"github.com/solsticeworks/scene-pilot/internal/llm"
	"github.com/solsticeworks/scene-pilot/internal/toolserver"
)

// Notifier receives session events. The session never knows the concrete
// type of its observer; hosts implement whichever callbacks they care about
// by embedding NoopNotifier.
type Notifier interface {
	// MessageAdded fires when a message is appended to history.
	MessageAdded(index int, msg llm.Message)
	// MessageUpdated fires on every streaming delta to an existing message.
	MessageUpdated(index int, msg llm.Message)
	// ChatReset fires after ResetChat clears history.
	ChatReset()
	// ChatError fires when a request fails. History is left intact.
	ChatError(text string)
	// ToolCallStarted fires once per call before it is dispatched.
	ToolCallStarted(call llm.ToolCall)
	// ToolCallFinished fires once per call with its result.
	ToolCallFinished(call llm.ToolCall, result toolserver.Result)
	// ToolsReady fires after server discovery completes.
	ToolsReady(ok bool, count int)
	// RetryScheduled fires when a transient provider error is being retried.
	RetryScheduled(attempt int, waitSecs float64)
	SummarizationStarted()
	SummarizationComplete(ok bool)
	// TokenBudgetUpdated fires after each completed request with the
	// estimated context utilization.
	TokenBudgetUpdated(current, max int, pct float64)
}

// NoopNotifier implements Notifier with empty methods.
type NoopNotifier struct{}

func (NoopNotifier) MessageAdded(int, llm.Message)                    {}
func (NoopNotifier) MessageUpdated(int, llm.Message)                  {}
func (NoopNotifier) ChatReset()                                       {}
func (NoopNotifier) ChatError(string)                                 {}
func (NoopNotifier) ToolCallStarted(llm.ToolCall)                     {}
func (NoopNotifier) ToolCallFinished(llm.ToolCall, toolserver.Result) {}
func (NoopNotifier) ToolsReady(bool, int)                             {}
func (NoopNotifier) RetryScheduled(int, float64)                      {}
func (NoopNotifier) SummarizationStarted()                            {}
func (NoopNotifier) SummarizationComplete(bool)                       {}
func (NoopNotifier) TokenBudgetUpdated(int, int, float64)             {}

var _ Notifier = NoopNotifier{}
