package engine

import "github.com/roach88/sopsync/internal/stream"

// State is the orchestrator state.
type State int

const (
	StateIdle State = iota
	StateStreamingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreamingReply:
		return "streaming_reply"
	default:
		return "unknown"
	}
}

// SessionStatus is the lifecycle of one stream session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// StreamSession is one in-flight assistant request. Events are matched to it
// by ID; a session that is no longer the open one never touches the form.
type StreamSession struct {
	ID              string        `json:"id"`
	TemplateID      int           `json:"template_id"`
	Status          SessionStatus `json:"status"`
	AccumulatedText string        `json:"accumulated_text"`
	VisibleText     string        `json:"visible_text"`
	Err             error         `json:"-"`

	parser *stream.Parser
	cancel func()
}

// IsOpen reports whether the session is still receiving chunks.
func (s *StreamSession) IsOpen() bool {
	return s != nil && s.Status == SessionOpen
}

// snapshot copies the exported fields.
func (s *StreamSession) snapshot() StreamSession {
	return StreamSession{
		ID:              s.ID,
		TemplateID:      s.TemplateID,
		Status:          s.Status,
		AccumulatedText: s.AccumulatedText,
		VisibleText:     s.VisibleText,
		Err:             s.Err,
	}
}
