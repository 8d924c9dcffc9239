package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// LocalProvider implements Provider for the studio's bundled inference
// gateway (and other single-model local servers). It differs from the
// OpenAI adapter in exactly the three specified ways: auth is an X-Api-Key
// header, the body carries no model-selection field (the server serves one
// fixed model), and error bodies are {"detail": ...} with a plain-text
// fallback.
type LocalProvider struct {
	baseURL string
	apiKey  string
	label   string
}

func NewLocalProvider(baseURL, apiKey, label string) *LocalProvider {
	if label == "" {
		label = "Local"
	}
	return &LocalProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		label:   label,
	}
}

func (p *LocalProvider) Name() string {
	return p.label
}

func (p *LocalProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return streamSSE(ctx, p, req)
}

func (p *LocalProvider) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	body, err := buildChatBody(req, "", false)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", p.apiKey)
	}
	return httpReq, nil
}

func (p *LocalProvider) ParseError(statusCode int, body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Detail) > 0 {
		var msg string
		if json.Unmarshal(parsed.Detail, &msg) == nil {
			return msg
		}
		return string(parsed.Detail)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
