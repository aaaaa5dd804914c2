// Package assist drives the "suggest a fix" chat: an external LLM is
// given a failed step's context and the user can continue the
// conversation from the run view. Conversations are kept per session in
// memory only; clearChat drops the history.
package assist

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are an MLOps assistant embedded in an IDE. " +
	"The user shows you failing pipeline steps and error output from their " +
	"stack. Suggest concrete, minimal fixes. Prefer configuration and code " +
	"changes the user can apply directly."

// Completer is the slice of the OpenAI client the assistant uses.
// *openai.Client satisfies it; tests substitute a fake.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config for the assistant.
type Config struct {
	APIKey string
	Model  string // defaults to gpt-4o-mini
}

// Assistant holds per-session chat histories over one completion
// backend.
type Assistant struct {
	completer Completer
	model     string

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessage
}

// New creates an assistant backed by the OpenAI API.
func New(cfg Config) (*Assistant, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assist: API key not configured")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return NewWithCompleter(openai.NewClient(cfg.APIKey), model), nil
}

// NewWithCompleter creates an assistant over an explicit backend.
func NewWithCompleter(c Completer, model string) *Assistant {
	return &Assistant{
		completer: c,
		model:     model,
		sessions:  make(map[string][]openai.ChatCompletionMessage),
	}
}

// SuggestFix starts (or extends) a session with a failed step's context
// and returns the model's suggestion.
func (a *Assistant) SuggestFix(ctx context.Context, session, stepName, errorOutput string) (string, error) {
	prompt := "Pipeline step " + stepName + " failed with:\n\n" + errorOutput +
		"\n\nSuggest a fix."
	return a.SendMessage(ctx, session, prompt)
}

// SendMessage appends a user message to the session's history, asks the
// model, and records its reply. The history only advances when the call
// succeeds, so a failed request can simply be retried.
func (a *Assistant) SendMessage(ctx context.Context, session, message string) (string, error) {
	a.mu.Lock()
	history := a.sessions[session]
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleSystem, Content: systemPrompt,
	})
	messages = append(messages, history...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: message,
	})
	a.mu.Unlock()

	resp, err := a.completer.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	reply := resp.Choices[0].Message.Content

	a.mu.Lock()
	a.sessions[session] = append(a.sessions[session],
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	a.mu.Unlock()

	return reply, nil
}

// ClearChat drops the session's history.
func (a *Assistant) ClearChat(session string) {
	a.mu.Lock()
	delete(a.sessions, session)
	a.mu.Unlock()
}

// HistoryLen reports how many messages a session has accumulated.
func (a *Assistant) HistoryLen(session string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions[session])
}
