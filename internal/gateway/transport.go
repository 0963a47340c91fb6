package gateway

import (
	"context"
	"fmt"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversational message sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage is the token usage reported by the model.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is a model response.
type Completion struct {
	Text  string
	Usage Usage
}

// Transport performs the external model call.
type Transport interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.Code, e.Body)
}
