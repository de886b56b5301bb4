package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/sopsync/internal/assistant"
	"github.com/roach88/sopsync/internal/engine"
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/prefill"
	"github.com/roach88/sopsync/internal/schema"
	"github.com/roach88/sopsync/internal/store"
	"github.com/roach88/sopsync/internal/testutil"
)

// ReplyTimeout bounds how long a chat step waits for its reply.
const ReplyTimeout = 5 * time.Second

// shareBase is the page a scenario share link points at.
const shareBase = "https://sop.local/form"

// Harness runs one scenario against a real engine.
// Each run uses a fresh in-memory SQLite store, a deterministic clock and
// sequential session ids, so traces are reproducible.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	replies chan ReplyEvent
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Load templates and create a fresh in-memory database
// 2. Start the engine with a scripted assistant
// 3. Execute steps, checking expected step errors
// 4. Stop the engine and read back history and final state
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	registry, err := loadRegistry(scenario.Templates)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		replies: make(chan ReplyEvent, len(scenario.Steps)),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	opts := []engine.EngineOption{
		engine.WithPersister(st),
		engine.WithRecorder(st),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("session")),
		engine.WithProfile(prefill.ProfileFromStrings(scenario.Profile)),
		engine.WithObserver(h.observer()),
		engine.WithStoreOptions(formstate.WithLogger(h.logger)),
	}
	if scenario.Namespace != "" {
		opts = append(opts, engine.WithNamespace(scenario.Namespace))
	}
	h.engine = engine.New(registry, assistant.NewScripted(scriptedReplies(scenario.Replies)...), opts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			h.engine.Stop()
			<-done
			return nil, err
		}
	}

	h.engine.Stop()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("engine stopped with error: %w", err)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step. Unexpected step outcomes are recorded on the
// result; only harness failures are returned.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	var err error
	switch step.Kind() {
	case "open":
		link, lerr := stepLink(step.Open)
		if lerr != nil {
			return fmt.Errorf("steps[%d]: %w", i, lerr)
		}
		err = h.engine.OpenTemplate(ctx, step.Open.Template, link)

	case "profile":
		err = h.engine.SetProfile(ctx, prefill.ProfileFromStrings(step.Profile))

	case "edit":
		v, verr := form.ValueFromAny(step.Edit.Value)
		if verr != nil {
			return fmt.Errorf("steps[%d].edit: %w", i, verr)
		}
		err = h.engine.UserEdit(ctx, step.Edit.Field, v)

	case "chat":
		var sessionID string
		sessionID, err = h.engine.SubmitChat(ctx, engine.ChatRequest{Message: step.Chat})
		if err == nil {
			reply, werr := h.waitReply(ctx, sessionID)
			if werr != nil {
				return fmt.Errorf("steps[%d].chat: %w", i, werr)
			}
			result.Replies = append(result.Replies, reply)
		}

	default:
		return fmt.Errorf("steps[%d]: no action", i)
	}

	code := errorCode(err)
	if err != nil {
		result.StepErrors = append(result.StepErrors, StepError{Step: i, Kind: step.Kind(), Code: code})
	}
	if code != step.ExpectError {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %q, got %q", i, step.Kind(), step.ExpectError, code))
	}

	h.logger.Info("step completed", "step", i, "kind", step.Kind(), "code", code)
	return nil
}

func (h *Harness) waitReply(ctx context.Context, sessionID string) (ReplyEvent, error) {
	timer := time.NewTimer(ReplyTimeout)
	defer timer.Stop()
	for {
		select {
		case r := <-h.replies:
			if r.Session == sessionID {
				return r, nil
			}
		case <-timer.C:
			return ReplyEvent{}, fmt.Errorf("reply %s did not finish within %s", sessionID, ReplyTimeout)
		case <-ctx.Done():
			return ReplyEvent{}, ctx.Err()
		}
	}
}

func (h *Harness) observer() engine.Observer {
	return engine.ObserverFuncs{
		OnReplyCompleted: func(r engine.ReplyResult) {
			h.replies <- ReplyEvent{
				Session: r.Session.ID,
				Status:  string(r.Session.Status),
				Visible: r.Session.VisibleText,
				Applied: nonNil(r.Merge.Applied),
				Skipped: nonNil(r.Merge.Skipped),
			}
		},
		OnReplyFailed: func(s engine.StreamSession, err error) {
			h.replies <- ReplyEvent{
				Session: s.ID,
				Status:  string(s.Status),
				Visible: s.VisibleText,
				Applied: []string{},
				Skipped: []formstate.Skip{},
				Error:   errorCode(err),
			}
		},
	}
}

// collect reads history and the final form after the engine has stopped.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	changes, err := h.store.ReadChanges(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read change history: %w", err)
	}
	for _, c := range changes {
		result.Changes = append(result.Changes, ChangeEvent{
			Seq:    c.Seq,
			Key:    c.Key,
			Source: string(c.Source),
			Field:  c.FieldID,
			Value:  c.Value,
		})
	}

	result.State = h.engine.Snapshot()
	if report, ok := h.engine.Review(); ok {
		result.Review = report
	}
	return nil
}

func loadRegistry(paths []string) (*schema.Registry, error) {
	var templates []schema.Template
	for _, p := range paths {
		ts, err := schema.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		templates = append(templates, ts...)
	}
	registry, errs := schema.NewRegistry(templates...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid templates: %w", errors.Join(errs...))
	}
	return registry, nil
}

func scriptedReplies(in []ScriptedReply) []assistant.Reply {
	out := make([]assistant.Reply, len(in))
	for i, r := range in {
		out[i] = assistant.Reply{Chunks: r.Chunks}
		if r.Error != "" {
			out[i].Err = errors.New(r.Error)
		}
	}
	return out
}

func stepLink(open *OpenStep) (string, error) {
	if open.Share == nil {
		return open.Link, nil
	}
	data, rejected := form.PartialFromMap(open.Share.Data)
	if len(rejected) > 0 {
		return "", fmt.Errorf("share data: unsupported value for %s", rejected[0])
	}
	return prefill.ShareURL(shareBase, prefill.SharePayload{TemplateID: open.Share.Template, FormData: data})
}

// errorCode maps a step error to the code scenarios expect.
func errorCode(err error) string {
	var re *engine.RuntimeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return string(re.Code)
	case errors.Is(err, formstate.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, formstate.ErrShapeMismatch):
		return "shape_mismatch"
	default:
		return "error"
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
