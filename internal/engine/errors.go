package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a failure reported by the orchestrator to its caller.
//
// Sentinels below carry only a Code; errors.Is matches any RuntimeError with
// the same code, so callers can write errors.Is(err, ErrStreamInProgress).
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// SessionID identifies the stream session, if any.
	SessionID string

	// TemplateID identifies the template, if any.
	TemplateID int

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStreamInProgress: a chat was submitted while a reply is streaming.
	ErrCodeStreamInProgress RuntimeErrorCode = "STREAM_IN_PROGRESS"

	// ErrCodeNoTemplate: the operation needs an open template.
	ErrCodeNoTemplate RuntimeErrorCode = "NO_TEMPLATE"

	// ErrCodeUnknownTemplate: the template id is not registered.
	ErrCodeUnknownTemplate RuntimeErrorCode = "UNKNOWN_TEMPLATE"

	// ErrCodeTransportFailed: the assistant call failed; the form is untouched.
	ErrCodeTransportFailed RuntimeErrorCode = "TRANSPORT_FAILED"

	// ErrCodeStopped: the engine loop is not running.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

var (
	ErrStreamInProgress = &RuntimeError{Code: ErrCodeStreamInProgress}
	ErrNoTemplate       = &RuntimeError{Code: ErrCodeNoTemplate}
	ErrUnknownTemplate  = &RuntimeError{Code: ErrCodeUnknownTemplate}
	ErrTransportFailed  = &RuntimeError{Code: ErrCodeTransportFailed}
	ErrStopped          = &RuntimeError{Code: ErrCodeStopped}
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	switch {
	case e.SessionID != "":
		msg = fmt.Sprintf("%s (session=%s)", msg, e.SessionID)
	case e.TemplateID != 0:
		msg = fmt.Sprintf("%s (template=%d)", msg, e.TemplateID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is matches another RuntimeError by code.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Code == e.Code
}

// IsTransportFailure returns true if err is a transport failure.
// Uses errors.As to handle wrapped errors.
func IsTransportFailure(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeTransportFailed
	}
	return false
}

// IsStreamInProgress returns true if err rejected a chat because a reply
// was already streaming.
func IsStreamInProgress(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeStreamInProgress
	}
	return false
}

func newUnknownTemplateError(id int) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeUnknownTemplate,
		Message:    "template is not registered",
		TemplateID: id,
	}
}

func newTransportError(sessionID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeTransportFailed,
		Message:   "assistant reply failed, form unchanged",
		SessionID: sessionID,
		Err:       err,
	}
}
