package engine

import (
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/schema"
)

// ReplyResult describes a completed reply.
type ReplyResult struct {
	Session StreamSession

	// Update is the sanitized update block, nil when there was none or it
	// was malformed.
	Update form.Partial

	// Merge is the outcome of applying Update.
	Merge formstate.MergeResult

	// ParseErr is set when the block was malformed. It is diagnostic only.
	ParseErr error

	// Rejected lists update keys with unsupported JSON values or values
	// that could not be sanitized.
	Rejected []form.Rejection
}

// Observer receives orchestrator notifications on the Run goroutine.
// Implementations must not call Engine command methods synchronously;
// read methods are safe.
type Observer interface {
	TemplateOpened(tmpl *schema.Template, state form.State)
	FormChanged(source formstate.Source, state form.State)
	ReplyStarted(s StreamSession)
	ReplyUpdated(s StreamSession)
	ReplyCompleted(r ReplyResult)
	ReplyFailed(s StreamSession, err error)
	ReplyCancelled(s StreamSession)
	// StaleEventDropped fires when a chunk or completion arrives for a
	// session that is no longer open.
	StaleEventDropped(sessionID, kind string)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are no-ops.
type ObserverFuncs struct {
	OnTemplateOpened    func(tmpl *schema.Template, state form.State)
	OnFormChanged       func(source formstate.Source, state form.State)
	OnReplyStarted      func(s StreamSession)
	OnReplyUpdated      func(s StreamSession)
	OnReplyCompleted    func(r ReplyResult)
	OnReplyFailed       func(s StreamSession, err error)
	OnReplyCancelled    func(s StreamSession)
	OnStaleEventDropped func(sessionID, kind string)
}

var _ Observer = ObserverFuncs{}

func (o ObserverFuncs) TemplateOpened(tmpl *schema.Template, state form.State) {
	if o.OnTemplateOpened != nil {
		o.OnTemplateOpened(tmpl, state)
	}
}

func (o ObserverFuncs) FormChanged(source formstate.Source, state form.State) {
	if o.OnFormChanged != nil {
		o.OnFormChanged(source, state)
	}
}

func (o ObserverFuncs) ReplyStarted(s StreamSession) {
	if o.OnReplyStarted != nil {
		o.OnReplyStarted(s)
	}
}

func (o ObserverFuncs) ReplyUpdated(s StreamSession) {
	if o.OnReplyUpdated != nil {
		o.OnReplyUpdated(s)
	}
}

func (o ObserverFuncs) ReplyCompleted(r ReplyResult) {
	if o.OnReplyCompleted != nil {
		o.OnReplyCompleted(r)
	}
}

func (o ObserverFuncs) ReplyFailed(s StreamSession, err error) {
	if o.OnReplyFailed != nil {
		o.OnReplyFailed(s, err)
	}
}

func (o ObserverFuncs) ReplyCancelled(s StreamSession) {
	if o.OnReplyCancelled != nil {
		o.OnReplyCancelled(s)
	}
}

func (o ObserverFuncs) StaleEventDropped(sessionID, kind string) {
	if o.OnStaleEventDropped != nil {
		o.OnStaleEventDropped(sessionID, kind)
	}
}
