package chat

import (
	"encoding/json"
	"fmt"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

const historyVersion = 1

// historyDoc is the persisted conversation format.
type historyDoc struct {
	Version   int           `json:"version"`
	LastModel string        `json:"lastModel,omitempty"`
	Messages  []llm.Message `json:"messages"`
}

// MarshalHistory serializes an ordered message list to the versioned
// history document.
func MarshalHistory(lastModel string, msgs []llm.Message) ([]byte, error) {
	doc := historyDoc{Version: historyVersion, LastModel: lastModel, Messages: msgs}
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalHistory parses a history document and returns the model it was
// last used with and the ordered message list.
func UnmarshalHistory(data []byte) (string, []llm.Message, error) {
	var doc historyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("parsing history: %w", err)
	}
	if doc.Version != historyVersion {
		return "", nil, fmt.Errorf("unsupported history version %d", doc.Version)
	}
	return doc.LastModel, doc.Messages, nil
}
