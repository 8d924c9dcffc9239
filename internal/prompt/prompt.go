// Package prompt assembles the assistant's system prompt.
package prompt

import (
	"fmt"
	"runtime"
	"strings"
)

// SystemPrompt builds the default system prompt for the studio assistant.
// customContext comes from user configuration; toolNames lists the tools
// discovered from the configured servers so the model knows what it can
// actually call.
func SystemPrompt(customContext string, toolNames []string) string {
	var b strings.Builder
	b.WriteString(`You are the built-in assistant of a 3D scene authoring studio. You help
the user inspect, build and modify scenes through conversation.

Context:
- Host OS: ` + runtime.GOOS + `/` + runtime.GOARCH)

	if customContext != "" {
		fmt.Fprintf(&b, "\n- Project notes: %s", customContext)
	}

	b.WriteString(`

Rules:
1. Prefer acting through the available tools over describing manual steps.
2. When a tool fails, report the failure and suggest a correction; never
   pretend it succeeded.
3. Keep answers short; the user is mid-edit and reads them in a side panel.
4. Never invent scene objects, asset names or file paths.`)

	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "\n\nAvailable tools: %s", strings.Join(toolNames, ", "))
	}

	return b.String()
}

// UserContext wraps free-form scene state the editor wants to attach to a
// user turn.
func UserContext(sceneState, userInput string) string {
	if sceneState == "" {
		return userInput
	}
	return fmt.Sprintf("Current scene state:\n%s\n\nRequest: %s", sceneState, userInput)
}
