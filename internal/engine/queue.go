package engine

import (
	"sync"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/prefill"
)

// eventType distinguishes between event kinds.
type eventType int

const (
	eventOpenTemplate eventType = iota + 1
	eventSetProfile
	eventUserEdit
	eventSubmitChat
	eventChunk
	eventStreamDone
	eventBarrier
)

func (t eventType) String() string {
	switch t {
	case eventOpenTemplate:
		return "open_template"
	case eventSetProfile:
		return "set_profile"
	case eventUserEdit:
		return "user_edit"
	case eventSubmitChat:
		return "submit_chat"
	case eventChunk:
		return "chunk"
	case eventStreamDone:
		return "stream_done"
	case eventBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// event is one unit of work for the Run loop. Command events carry a reply
// channel; stream events carry the session id they belong to.
type event struct {
	typ eventType

	templateID int
	shareLink  string
	profile    prefill.Profile
	fieldID    string
	value      form.Value
	chat       ChatRequest

	sessionID string
	chunk     string
	err       error

	reply chan commandResult
}

type commandResult struct {
	sessionID string
	err       error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// Unbounded so a transport goroutine never blocks on a busy loop. Chunks
// from one transport are enqueued by a single goroutine, so they keep their
// arrival order.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]
	// Clear the slot so the backing array does not pin chunk text.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns everything still queued.
func (q *eventQueue) Drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
