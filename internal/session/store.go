package session

import (
	"context"
	"strings"
	"time"

	"github.com/solsticeworks/scene-pilot/internal/llm"
)

// Session is a stored conversation.
type Session struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	Summary          string    `json:"summary,omitempty"` // first user message, truncated
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	UserTurns        int       `json:"user_turns,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
}

// Message is one stored conversation turn. Payload preserves the full
// llm.Message including tool calls.
type Message struct {
	SessionID string
	Sequence  int
	Payload   llm.Message
	CreatedAt time.Time
}

// Store persists sessions and their messages.
type Store interface {
	Create(ctx context.Context, sess *Session) error
	Update(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, limit int) ([]Session, error)
	Delete(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, sessionID string, msg llm.Message) error
	Messages(ctx context.Context, sessionID string) ([]llm.Message, error)
	Close() error
}

// TruncateSummary shortens text to a single listing-friendly line.
func TruncateSummary(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 80
	if len(text) > max {
		text = text[:max-1] + "…"
	}
	return text
}

// NoopStore discards everything, for running without persistence.
type NoopStore struct{}

func (NoopStore) Create(context.Context, *Session) error        { return nil }
func (NoopStore) Update(context.Context, *Session) error        { return nil }
func (NoopStore) Get(context.Context, string) (*Session, error) { return nil, ErrNotFound }
func (NoopStore) List(context.Context, int) ([]Session, error)  { return nil, nil }
func (NoopStore) Delete(context.Context, string) error          { return nil }
func (NoopStore) AppendMessage(context.Context, string, llm.Message) error {
	return nil
}
func (NoopStore) Messages(context.Context, string) ([]llm.Message, error) {
	return nil, nil
}
func (NoopStore) Close() error { return nil }

var _ Store = NoopStore{}
