package assistant

import (
	"context"
	"sync"
)

// Reply is one canned response for Scripted.
type Reply struct {
	Chunks []string
	Err    error

	// Release, when set, is waited on after the chunks are delivered and
	// before the call returns. Tests use it to hold a reply open.
	Release <-chan struct{}
}

// Call is one recorded StreamReply invocation.
type Call struct {
	History      []Message
	SystemPrompt string
}

// Scripted is a Transport that plays back replies in order.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// NewScripted creates a transport that returns replies in order, then
// ErrNoScriptedReply.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Push queues more replies.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Calls returns the recorded invocations.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// StreamReply implements Transport.
func (s *Scripted) StreamReply(ctx context.Context, history []Message, systemPrompt string, onChunk func(string)) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{History: append([]Message(nil), history...), SystemPrompt: systemPrompt})
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return ErrNoScriptedReply
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	for _, chunk := range reply.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		onChunk(chunk)
	}

	if reply.Release != nil {
		select {
		case <-reply.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return reply.Err
}
