package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/sopsync/internal/assistant"
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/prefill"
	"github.com/roach88/sopsync/internal/review"
	"github.com/roach88/sopsync/internal/sanitize"
	"github.com/roach88/sopsync/internal/schema"
	"github.com/roach88/sopsync/internal/stream"
)

// DefaultNamespace scopes persistence keys when none is configured.
const DefaultNamespace = "default"

// StoreKey returns the persistence key for a template's form state.
func StoreKey(namespace string, templateID int) string {
	return fmt.Sprintf("sop:%s:%d", namespace, templateID)
}

// ChatRequest is one user chat submission.
type ChatRequest struct {
	Message string

	// SystemPrompt replaces the prompt built from the active template.
	SystemPrompt string
}

// Engine is the single-writer session orchestrator.
//
// Command methods (OpenTemplate, SetProfile, UserEdit, SubmitChat) enqueue an
// event and wait for the Run loop to process it. Assistant chunks arrive as
// events tagged with their session id, so every form mutation happens on the
// Run goroutine in arrival order.
//
// Thread-safety model:
//   - command and read methods: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Observer callbacks: invoked on the Run goroutine
type Engine struct {
	registry  *schema.Registry
	transport assistant.Transport
	persister formstate.Persister
	recorder  formstate.ChangeRecorder
	clock     formstate.Sequencer
	ids       IDGenerator
	observer  Observer
	namespace string
	storeOpts []formstate.Option

	openMarker  string
	closeMarker string

	queue *eventQueue

	// Owned by the Run goroutine.
	profile prefill.Profile
	share   *prefill.SharePayload
	history []assistant.Message

	// Written only by the Run goroutine; mu lets readers observe them.
	mu      sync.RWMutex
	tmpl    *schema.Template
	forms   *formstate.Store
	session *StreamSession
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPersister sets where form snapshots are written through.
func WithPersister(p formstate.Persister) EngineOption {
	return func(e *Engine) { e.persister = p }
}

// WithRecorder sets the change history sink.
func WithRecorder(r formstate.ChangeRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithClock sets the sequencer shared by every opened form.
func WithClock(c formstate.Sequencer) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the session id generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithObserver sets the notification sink.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithNamespace scopes persistence keys.
func WithNamespace(ns string) EngineOption {
	return func(e *Engine) { e.namespace = ns }
}

// WithStoreOptions passes extra options (debounce, logger) to every form store.
func WithStoreOptions(opts ...formstate.Option) EngineOption {
	return func(e *Engine) { e.storeOpts = append(e.storeOpts, opts...) }
}

// WithMarkers sets the update block delimiters.
func WithMarkers(open, close string) EngineOption {
	return func(e *Engine) {
		if open != "" {
			e.openMarker = open
		}
		if close != "" {
			e.closeMarker = close
		}
	}
}

// WithProfile sets the initial profile.
func WithProfile(p prefill.Profile) EngineOption {
	return func(e *Engine) { e.profile = maps.Clone(p) }
}

// New creates an Engine over the registered templates. transport may be nil
// when chat is not used.
func New(registry *schema.Registry, transport assistant.Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:    registry,
		transport:   transport,
		clock:       formstate.NewClock(),
		ids:         UUIDv7Generator{},
		observer:    ObserverFuncs{},
		namespace:   DefaultNamespace,
		openMarker:  stream.DefaultOpenMarker,
		closeMarker: stream.DefaultCloseMarker,
		queue:       newEventQueue(),
		profile:     prefill.Profile{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.profile == nil {
		e.profile = prefill.Profile{}
	}
	return e
}

// OpenTemplate makes templateID the active template: any streaming reply is
// cancelled, the persisted state is restored, and prefill from the profile
// and the optional share link is merged in.
func (e *Engine) OpenTemplate(ctx context.Context, templateID int, shareLink string) error {
	_, err := e.do(ctx, event{typ: eventOpenTemplate, templateID: templateID, shareLink: shareLink})
	return err
}

// SetProfile replaces the profile and re-merges prefill into the active form.
func (e *Engine) SetProfile(ctx context.Context, profile prefill.Profile) error {
	_, err := e.do(ctx, event{typ: eventSetProfile, profile: maps.Clone(profile)})
	return err
}

// UserEdit overwrites one field of the active form.
func (e *Engine) UserEdit(ctx context.Context, fieldID string, v form.Value) error {
	_, err := e.do(ctx, event{typ: eventUserEdit, fieldID: fieldID, value: v})
	return err
}

// SubmitChat starts an assistant reply and returns its session id.
// Only one reply streams at a time; a second submission is rejected with
// ErrStreamInProgress.
func (e *Engine) SubmitChat(ctx context.Context, req ChatRequest) (string, error) {
	res, err := e.do(ctx, event{typ: eventSubmitChat, chat: req})
	return res.sessionID, err
}

// Sync returns once every event enqueued before the call has been processed.
func (e *Engine) Sync(ctx context.Context) error {
	_, err := e.do(ctx, event{typ: eventBarrier})
	return err
}

// do enqueues a command and waits for its result. If ctx ends first the
// command may still be applied later.
func (e *Engine) do(ctx context.Context, ev event) (commandResult, error) {
	ev.reply = make(chan commandResult, 1)
	if !e.queue.Enqueue(ev) {
		return commandResult{}, ErrStopped
	}
	select {
	case res := <-ev.reply:
		return res, res.err
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// State returns StateStreamingReply while a reply is open.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session.IsOpen() {
		return StateStreamingReply
	}
	return StateIdle
}

// ActiveTemplate returns the open template.
func (e *Engine) ActiveTemplate() (*schema.Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tmpl, e.tmpl != nil
}

// Snapshot returns a copy of the active form state (empty if none).
func (e *Engine) Snapshot() form.State {
	e.mu.RLock()
	forms := e.forms
	e.mu.RUnlock()
	if forms == nil {
		return form.State{}
	}
	return forms.Snapshot()
}

// Value returns one field of the active form.
func (e *Engine) Value(fieldID string) form.Value {
	return e.Snapshot().Get(fieldID)
}

// Review evaluates completion for the active form.
func (e *Engine) Review() (review.Report, bool) {
	e.mu.RLock()
	tmpl, forms := e.tmpl, e.forms
	e.mu.RUnlock()
	if forms == nil {
		return review.Report{}, false
	}
	return review.Evaluate(tmpl, forms.Snapshot()), true
}

// Session returns the most recent stream session.
func (e *Engine) Session() (StreamSession, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return StreamSession{}, false
	}
	return e.session.snapshot(), true
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called. On exit any open reply is
// cancelled, the active form is flushed and pending commands fail with
// ErrStopped.
//
// Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "templates", e.registry.Len(), "namespace", e.namespace)
	defer e.shutdown()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) shutdown() {
	e.queue.Close()
	e.cancelSession("engine stopped")
	e.flushForms(context.Background())
	for _, ev := range e.queue.Drain() {
		if ev.reply != nil {
			ev.reply <- commandResult{err: ErrStopped}
		}
	}
}

// processEvent routes an event to its handler.
// Called only from Run.
func (e *Engine) processEvent(ctx context.Context, ev event) {
	var res commandResult
	switch ev.typ {
	case eventOpenTemplate:
		res.err = e.openTemplate(ctx, ev.templateID, ev.shareLink)
	case eventSetProfile:
		res.err = e.setProfile(ctx, ev.profile)
	case eventUserEdit:
		res.err = e.userEdit(ctx, ev.fieldID, ev.value)
	case eventSubmitChat:
		res.sessionID, res.err = e.submitChat(ctx, ev.chat)
	case eventChunk:
		e.applyChunk(ev.sessionID, ev.chunk)
	case eventStreamDone:
		e.finishSession(ctx, ev.sessionID, ev.err)
	case eventBarrier:
	default:
		res.err = fmt.Errorf("unknown event type: %d", ev.typ)
	}

	if res.err != nil {
		slog.Debug("command rejected", "event", ev.typ, "error", res.err)
	}
	if ev.reply != nil {
		ev.reply <- res
	}
}

func (e *Engine) openTemplate(ctx context.Context, id int, shareLink string) error {
	tmpl, ok := e.registry.Get(id)
	if !ok {
		return newUnknownTemplateError(id)
	}

	e.cancelSession("template switched")
	e.flushForms(ctx)

	var share *prefill.SharePayload
	if shareLink != "" {
		p, ok := prefill.Decode(shareLink)
		switch {
		case !ok:
			slog.Warn("share link ignored: undecodable", "template_id", id)
		case p.TemplateID != id:
			slog.Info("share link ignored: template mismatch", "template_id", id, "share_template_id", p.TemplateID)
		default:
			share = &p
		}
	}

	opts := []formstate.Option{formstate.WithClock(e.clock)}
	if e.recorder != nil {
		opts = append(opts, formstate.WithRecorder(e.recorder))
	}
	opts = append(opts, e.storeOpts...)
	forms := formstate.Open(ctx, tmpl, StoreKey(e.namespace, id), e.persister, opts...)

	e.share = share
	e.history = nil
	e.mu.Lock()
	e.tmpl = tmpl
	e.forms = forms
	e.mu.Unlock()

	res := forms.ApplyMerge(ctx, formstate.SourcePrefill, prefill.Resolve(tmpl, e.profile, share))
	slog.Info("template opened",
		"template_id", id,
		"key", forms.Key(),
		"prefilled", len(res.Applied),
		"shared", share != nil,
	)

	e.observer.TemplateOpened(tmpl, forms.Snapshot())
	return nil
}

func (e *Engine) setProfile(ctx context.Context, profile prefill.Profile) error {
	if profile == nil {
		profile = prefill.Profile{}
	}
	e.profile = profile
	if e.forms == nil {
		return nil
	}

	res := e.forms.ApplyMerge(ctx, formstate.SourcePrefill, prefill.Resolve(e.tmpl, e.profile, e.share))
	slog.Debug("profile re-merged", "template_id", e.tmpl.ID, "applied", len(res.Applied))
	if res.Changed() {
		e.observer.FormChanged(formstate.SourcePrefill, e.forms.Snapshot())
	}
	return nil
}

func (e *Engine) userEdit(ctx context.Context, fieldID string, v form.Value) error {
	if e.forms == nil {
		return &RuntimeError{Code: ErrCodeNoTemplate, Message: "no template is open"}
	}
	if err := e.forms.ApplyUserEdit(ctx, fieldID, v); err != nil {
		return err
	}
	e.observer.FormChanged(formstate.SourceUser, e.forms.Snapshot())
	return nil
}

func (e *Engine) submitChat(ctx context.Context, req ChatRequest) (string, error) {
	if e.forms == nil {
		return "", &RuntimeError{Code: ErrCodeNoTemplate, Message: "no template is open"}
	}
	if e.session.IsOpen() {
		return "", &RuntimeError{
			Code:      ErrCodeStreamInProgress,
			Message:   "a reply is still streaming",
			SessionID: e.session.ID,
		}
	}
	if e.transport == nil {
		return "", &RuntimeError{Code: ErrCodeTransportFailed, Message: "no assistant transport configured"}
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return "", errors.New("chat message is empty")
	}

	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = assistant.BuildSystemPrompt(e.tmpl, e.forms.Snapshot(), e.openMarker, e.closeMarker)
	}
	e.history = append(e.history, assistant.Message{Role: assistant.RoleUser, Content: msg})

	sctx, cancel := context.WithCancel(ctx)
	s := &StreamSession{
		ID:         e.ids.Generate(),
		TemplateID: e.tmpl.ID,
		Status:     SessionOpen,
		parser:     stream.NewParser(stream.WithMarkers(e.openMarker, e.closeMarker)),
		cancel:     cancel,
	}
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	go e.runTransport(sctx, s.ID, slices.Clone(e.history), prompt)

	slog.Info("reply started", "session_id", s.ID, "template_id", s.TemplateID)
	e.observer.ReplyStarted(s.snapshot())
	return s.ID, nil
}

// runTransport streams one reply, converting chunks and the final outcome
// into events tagged with sessionID. Runs on its own goroutine.
func (e *Engine) runTransport(ctx context.Context, sessionID string, history []assistant.Message, prompt string) {
	err := e.callTransport(ctx, history, prompt, func(chunk string) {
		e.queue.Enqueue(event{typ: eventChunk, sessionID: sessionID, chunk: chunk})
	})
	e.queue.Enqueue(event{typ: eventStreamDone, sessionID: sessionID, err: err})
}

func (e *Engine) callTransport(ctx context.Context, history []assistant.Message, prompt string, onChunk func(string)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return e.transport.StreamReply(ctx, history, prompt, onChunk)
}

func (e *Engine) applyChunk(sessionID, chunk string) {
	s := e.session
	if !s.IsOpen() || s.ID != sessionID {
		e.dropStale(sessionID, "chunk")
		return
	}

	visible := s.parser.Feed(chunk)
	e.mu.Lock()
	s.AccumulatedText = s.parser.Text()
	s.VisibleText = visible
	e.mu.Unlock()

	e.observer.ReplyUpdated(s.snapshot())
}

func (e *Engine) finishSession(ctx context.Context, sessionID string, streamErr error) {
	s := e.session
	if !s.IsOpen() || s.ID != sessionID {
		e.dropStale(sessionID, "completion")
		return
	}
	s.cancel()

	if streamErr != nil {
		rerr := newTransportError(sessionID, streamErr)
		e.mu.Lock()
		s.Status = SessionFailed
		s.Err = rerr
		e.mu.Unlock()

		// The unanswered question is dropped so a retry does not repeat it.
		if n := len(e.history); n > 0 && e.history[n-1].Role == assistant.RoleUser {
			e.history = e.history[:n-1]
		}
		slog.Warn("reply failed", "session_id", sessionID, "error", streamErr)
		e.observer.ReplyFailed(s.snapshot(), rerr)
		return
	}

	parsed := s.parser.Finalize()
	result := ReplyResult{ParseErr: parsed.Err, Rejected: parsed.Rejected}
	if parsed.Err != nil {
		slog.Warn("malformed form update dropped", "session_id", sessionID, "error", parsed.Err)
	}
	if len(parsed.Rejected) > 0 {
		slog.Warn("form update keys rejected", "session_id", sessionID, "count", len(parsed.Rejected))
	}
	if parsed.Update != nil {
		update, rejected := sanitize.Partial(parsed.Update)
		if len(rejected) > 0 {
			slog.Warn("form update values rejected", "session_id", sessionID, "rejected", rejected)
			result.Rejected = append(result.Rejected, rejected...)
		}
		result.Update = update
		result.Merge = e.forms.ApplyMerge(ctx, formstate.SourceAssistant, result.Update)
	}

	e.mu.Lock()
	s.Status = SessionCompleted
	s.AccumulatedText = s.parser.Text()
	s.VisibleText = parsed.VisibleText
	e.mu.Unlock()
	e.history = append(e.history, assistant.Message{Role: assistant.RoleAssistant, Content: s.AccumulatedText})

	result.Session = s.snapshot()
	slog.Info("reply completed",
		"session_id", sessionID,
		"applied", len(result.Merge.Applied),
		"skipped", len(result.Merge.Skipped),
	)
	e.observer.ReplyCompleted(result)
	if result.Merge.Changed() {
		e.observer.FormChanged(formstate.SourceAssistant, e.forms.Snapshot())
	}
}

// cancelSession discards the open reply. Its late events are dropped by id.
func (e *Engine) cancelSession(reason string) {
	s := e.session
	if !s.IsOpen() {
		return
	}
	s.cancel()
	e.mu.Lock()
	s.Status = SessionCancelled
	e.mu.Unlock()

	slog.Info("reply cancelled", "session_id", s.ID, "reason", reason)
	e.observer.ReplyCancelled(s.snapshot())
}

func (e *Engine) dropStale(sessionID, kind string) {
	slog.Debug("stale stream event dropped", "session_id", sessionID, "event", kind)
	e.observer.StaleEventDropped(sessionID, kind)
}

func (e *Engine) flushForms(ctx context.Context) {
	if e.forms == nil {
		return
	}
	if err := e.forms.Flush(ctx); err != nil {
		slog.Warn("form flush failed", "key", e.forms.Key(), "error", err)
	}
}
