package assistant

import (
	"context"
	"errors"
	"fmt"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transport streams one assistant reply. onChunk is called zero or more
// times, in order, from the calling goroutine. The call returns nil after
// the final chunk, or an error on transport failure or cancellation.
type Transport interface {
	StreamReply(ctx context.Context, history []Message, systemPrompt string, onChunk func(string)) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, history []Message, systemPrompt string, onChunk func(string)) error

func (f TransportFunc) StreamReply(ctx context.Context, history []Message, systemPrompt string, onChunk func(string)) error {
	return f(ctx, history, systemPrompt, onChunk)
}

var (
	// ErrUnavailable is returned for 5xx responses.
	ErrUnavailable = errors.New("assistant unavailable")

	// ErrTruncated is returned when a stream ends without its [DONE] event.
	ErrTruncated = errors.New("assistant stream ended before completion")

	// ErrNoScriptedReply is returned by Scripted when its replies run out.
	ErrNoScriptedReply = errors.New("no scripted reply left")
)

// StatusError is a non-2xx response from the assistant endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("assistant request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("assistant request failed: status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets 5xx responses match ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrUnavailable
	}
	return nil
}
