package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints. Auth is a bearer token and the request body carries the model
// selection field.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return NewOpenAIProviderWithBaseURL(defaultOpenAIBaseURL, apiKey, model)
}

func NewOpenAIProviderWithBaseURL(baseURL, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return streamSSE(ctx, p, req)
}

func (p *OpenAIProvider) BuildRequest(ctx context.Context, req Request) (*http.Request, error) {
	body, err := buildChatBody(req, chooseModel(req.Model, p.model), true)
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
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	return httpReq, nil
}

// ParseError extracts the message from an OpenAI-shaped error body
// ({"error":{"message":...}}), falling back to the raw body.
func (p *OpenAIProvider) ParseError(statusCode int, body []byte) string {
	var parsed struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}
