package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sopsync/internal/assistant"
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/prefill"
	"github.com/roach88/sopsync/internal/schema"
	"github.com/roach88/sopsync/internal/stream"
	"github.com/roach88/sopsync/internal/testutil"
)

const waitTimeout = 2 * time.Second

// notifications collects observer callbacks for assertions.
type notifications struct {
	mu      sync.Mutex
	updates []string
	changes []formstate.Source

	opened    chan int
	completed chan ReplyResult
	failed    chan error
	cancelled chan StreamSession
	stale     chan string
}

func newNotifications() *notifications {
	return &notifications{
		opened:    make(chan int, 16),
		completed: make(chan ReplyResult, 16),
		failed:    make(chan error, 16),
		cancelled: make(chan StreamSession, 16),
		stale:     make(chan string, 64),
	}
}

func (n *notifications) observer() Observer {
	return ObserverFuncs{
		OnTemplateOpened: func(tmpl *schema.Template, _ form.State) { n.opened <- tmpl.ID },
		OnFormChanged: func(src formstate.Source, _ form.State) {
			n.mu.Lock()
			n.changes = append(n.changes, src)
			n.mu.Unlock()
		},
		OnReplyUpdated: func(s StreamSession) {
			n.mu.Lock()
			n.updates = append(n.updates, s.VisibleText)
			n.mu.Unlock()
		},
		OnReplyCompleted: func(r ReplyResult) { n.completed <- r },
		OnReplyFailed:    func(_ StreamSession, err error) { n.failed <- err },
		OnReplyCancelled: func(s StreamSession) { n.cancelled <- s },
		OnStaleEventDropped: func(id, kind string) {
			n.stale <- id + "/" + kind
		},
	}
}

func (n *notifications) visibleUpdates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.updates...)
}

func (n *notifications) formChanges() []formstate.Source {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]formstate.Source(nil), n.changes...)
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func startEngine(t *testing.T, transport assistant.Transport, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{WithIDGenerator(testutil.NewSequentialIDGenerator("session"))}
	e := New(testutil.Registry(t), transport, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStoreKey(t *testing.T) {
	assert.Equal(t, "sop:default:4", StoreKey(DefaultNamespace, 4))
	assert.Equal(t, "sop:farm-7:12", StoreKey("farm-7", 12))
}

func TestEngine_OpenTemplatePrefillsFromProfile(t *testing.T) {
	n := newNotifications()
	profile := prefill.ProfileFromStrings(map[string]string{
		"organization_name": "Green Acres",
		"owner_name":        "Sam Reed",
	})
	e := startEngine(t, nil, WithProfile(profile), WithObserver(n.observer()))
	ctx := testContext(t)

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	assert.Equal(t, testutil.BiosecurityID, waitFor(t, n.opened, "template opened"))

	tmpl, ok := e.ActiveTemplate()
	require.True(t, ok)
	assert.Equal(t, testutil.BiosecurityID, tmpl.ID)
	assert.Equal(t, form.Scalar("Green Acres"), e.Value("farm_name"))
	assert.Equal(t, form.Scalar("Sam Reed"), e.Value("prepared_by"))
	assert.Equal(t, StateIdle, e.State())

	report, ok := e.Review()
	require.True(t, ok)
	assert.Equal(t, 2, report.Filled)
	assert.Equal(t, []string{"date_prepared", "risk_level"}, report.MissingRequired)
}

func TestEngine_OpenUnknownTemplate(t *testing.T) {
	e := startEngine(t, nil)

	err := e.OpenTemplate(testContext(t), 99, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	_, ok := e.ActiveTemplate()
	assert.False(t, ok)
	assert.Empty(t, e.Snapshot())
	_, ok = e.Review()
	assert.False(t, ok)
}

func TestEngine_RestoresPersistedStateOverProfile(t *testing.T) {
	kv := testutil.NewMemoryKV()
	ctx := testContext(t)

	first := startEngine(t, nil, WithPersister(kv))
	require.NoError(t, first.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	require.NoError(t, first.UserEdit(ctx, "farm_name", form.Scalar("Hill Farm")))
	assert.Contains(t, kv.Raw(StoreKey(DefaultNamespace, testutil.BiosecurityID)), "Hill Farm")

	profile := prefill.ProfileFromStrings(map[string]string{
		"organization_name": "Profile Farm",
		"owner_name":        "Sam Reed",
	})
	second := startEngine(t, nil, WithPersister(kv), WithProfile(profile))
	require.NoError(t, second.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	assert.Equal(t, form.Scalar("Hill Farm"), second.Value("farm_name"), "restored value must not be overwritten by prefill")
	assert.Equal(t, form.Scalar("Sam Reed"), second.Value("prepared_by"))
}

func TestEngine_NamespaceScopesKeys(t *testing.T) {
	kv := testutil.NewMemoryKV()
	ctx := testContext(t)

	e := startEngine(t, nil, WithPersister(kv), WithNamespace("farm-7"))
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	require.NoError(t, e.UserEdit(ctx, "farm_name", form.Scalar("Hill Farm")))

	assert.Contains(t, kv.Raw("sop:farm-7:4"), "Hill Farm")
	assert.Empty(t, kv.Raw(StoreKey(DefaultNamespace, testutil.BiosecurityID)))
}

func TestEngine_ShareLinkPrefill(t *testing.T) {
	link, err := prefill.ShareURL("https://forms.example.com/sop", prefill.SharePayload{
		TemplateID: testutil.BiosecurityID,
		FormData: form.Partial{
			"farm_name":  form.Scalar("Shared Farm"),
			"risk_level": form.Scalar("Medium"),
		},
	})
	require.NoError(t, err)

	profile := prefill.ProfileFromStrings(map[string]string{"organization_name": "Profile Farm"})
	e := startEngine(t, nil, WithProfile(profile))
	ctx := testContext(t)

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, link))
	assert.Equal(t, form.Scalar("Shared Farm"), e.Value("farm_name"), "share payload wins over profile")
	assert.Equal(t, form.Scalar("Medium"), e.Value("risk_level"))

	// A payload for another template is ignored.
	require.NoError(t, e.OpenTemplate(ctx, testutil.AnimalHealthID, link))
	assert.Equal(t, form.Scalar("Profile Farm"), e.Value("farm_name"))

	// So is an undecodable link.
	require.NoError(t, e.OpenTemplate(ctx, testutil.AnimalHealthID, "https://forms.example.com/sop#share=%%%"))
	assert.Equal(t, form.Scalar("Profile Farm"), e.Value("farm_name"))
}

func TestEngine_SetProfileFillsOnlyEmptyFields(t *testing.T) {
	n := newNotifications()
	e := startEngine(t, nil, WithObserver(n.observer()))
	ctx := testContext(t)

	// Stored for the next open when no template is active.
	require.NoError(t, e.SetProfile(ctx, prefill.ProfileFromStrings(map[string]string{"phone": "01234 567890"})))

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	require.NoError(t, e.UserEdit(ctx, "prepared_by", form.Scalar("Alex")))
	require.NoError(t, e.SetProfile(ctx, prefill.ProfileFromStrings(map[string]string{
		"organization_name": "Green Acres",
		"owner_name":        "Sam Reed",
	})))

	assert.Equal(t, form.Scalar("Green Acres"), e.Value("farm_name"))
	assert.Equal(t, form.Scalar("Alex"), e.Value("prepared_by"), "user value wins over profile")
	assert.Equal(t, []formstate.Source{formstate.SourceUser, formstate.SourcePrefill}, n.formChanges())
}

func TestEngine_UserEditErrors(t *testing.T) {
	e := startEngine(t, nil)
	ctx := testContext(t)

	err := e.UserEdit(ctx, "farm_name", form.Scalar("x"))
	assert.ErrorIs(t, err, ErrNoTemplate)

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	assert.ErrorIs(t, e.UserEdit(ctx, "nope", form.Scalar("x")), formstate.ErrUnknownField)
	assert.ErrorIs(t, e.UserEdit(ctx, "hazards", form.Scalar("Visitors")), formstate.ErrShapeMismatch)

	require.NoError(t, e.UserEdit(ctx, "farm_name", form.Scalar("x")))
	require.NoError(t, e.UserEdit(ctx, "farm_name", form.Empty()))
	assert.NotContains(t, e.Snapshot(), "farm_name", "clearing a field removes it")
}

func TestEngine_ChatMergesUpdateWithoutOverwriting(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(assistant.Reply{Chunks: []string{
		"Here is a draft. <form_",
		`update>{"farm_name":"Bot Farm","risk_level":"High","hazards":["Visitors"]}</form`,
		"_update> Anything else?",
	}})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	require.NoError(t, e.UserEdit(ctx, "farm_name", form.Scalar("Mine")))

	id, err := e.SubmitChat(ctx, ChatRequest{Message: "  fill in the risks  "})
	require.NoError(t, err)
	assert.Equal(t, "session-1", id)

	res := waitFor(t, n.completed, "reply completed")
	assert.Equal(t, id, res.Session.ID)
	assert.Equal(t, SessionCompleted, res.Session.Status)
	assert.Equal(t, "Here is a draft.  Anything else?", res.Session.VisibleText)
	assert.NoError(t, res.ParseErr)
	assert.Equal(t, []string{"hazards", "risk_level"}, res.Merge.Applied)
	assert.Equal(t, []string{"farm_name"}, res.Merge.SkippedFor(formstate.SkipNotEmpty))

	require.NoError(t, e.Sync(ctx))
	assert.Equal(t, form.Scalar("Mine"), e.Value("farm_name"))
	assert.Equal(t, form.Scalar("High"), e.Value("risk_level"))
	assert.Equal(t, form.List("Visitors"), e.Value("hazards"))
	assert.Equal(t, StateIdle, e.State())

	for _, visible := range n.visibleUpdates() {
		assert.NotContains(t, visible, "<", "markup leaked into visible text")
		assert.NotContains(t, visible, "Bot Farm")
	}
	assert.Contains(t, n.formChanges(), formstate.SourceAssistant)

	calls := transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []assistant.Message{{Role: assistant.RoleUser, Content: "fill in the risks"}}, calls[0].History)
	assert.Contains(t, calls[0].SystemPrompt, "risk_level")
	assert.Contains(t, calls[0].SystemPrompt, stream.DefaultOpenMarker)

	session, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, SessionCompleted, session.Status)
}

func TestEngine_ChatHistoryCarriesPriorTurns(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(
		assistant.Reply{Chunks: []string{"First answer."}},
		assistant.Reply{Chunks: []string{"Second answer."}},
	)
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "one"})
	require.NoError(t, err)
	waitFor(t, n.completed, "first reply")

	_, err = e.SubmitChat(ctx, ChatRequest{Message: "two", SystemPrompt: "custom prompt"})
	require.NoError(t, err)
	waitFor(t, n.completed, "second reply")

	calls := transport.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []assistant.Message{
		{Role: assistant.RoleUser, Content: "one"},
		{Role: assistant.RoleAssistant, Content: "First answer."},
		{Role: assistant.RoleUser, Content: "two"},
	}, calls[1].History)
	assert.Equal(t, "custom prompt", calls[1].SystemPrompt)
}

func TestEngine_MalformedUpdateLeavesFormUnchanged(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(assistant.Reply{Chunks: []string{
		`Done <form_update>{"farm_name": oops}</form_update>`,
	}})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "go"})
	require.NoError(t, err)

	res := waitFor(t, n.completed, "reply completed")
	assert.ErrorIs(t, res.ParseErr, stream.ErrMalformedUpdate)
	assert.Nil(t, res.Update)
	assert.False(t, res.Merge.Changed())
	assert.NotContains(t, res.Session.VisibleText, "form_update")
	assert.Empty(t, e.Snapshot())
}

func TestEngine_UpdateValuesAreSanitized(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(assistant.Reply{Chunks: []string{
		`<form_update>{"controls":"<script>alert(1)</script>Wash boots"}</form_update>`,
	}})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "controls?"})
	require.NoError(t, err)
	waitFor(t, n.completed, "reply completed")

	require.NoError(t, e.Sync(ctx))
	assert.Equal(t, form.Scalar("Wash boots"), e.Value("controls"))
}

func TestEngine_BracketedProseIsRejectedNotMangled(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(assistant.Reply{Chunks: []string{
		`<form_update>{"controls":"Use <approved disinfectant> daily","hazards":["<b>Feed</b>"]}</form_update>`,
	}})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "controls?"})
	require.NoError(t, err)
	res := waitFor(t, n.completed, "reply completed")

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "controls", res.Rejected[0].FieldID)
	assert.Equal(t, []string{"hazards"}, res.Merge.Applied)

	require.NoError(t, e.Sync(ctx))
	assert.True(t, e.Value("controls").IsEmpty())
	assert.Equal(t, form.List("Feed"), e.Value("hazards"))
}

func TestEngine_TransportFailureLeavesFormUnchanged(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(
		assistant.Reply{
			Chunks: []string{`partial <form_update>{"farm_name":"X"}</form_update>`},
			Err:    errors.New("connection reset"),
		},
		assistant.Reply{Chunks: []string{"ok"}},
	)
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "lost question"})
	require.NoError(t, err)

	failure := waitFor(t, n.failed, "reply failed")
	assert.True(t, IsTransportFailure(failure))
	assert.ErrorContains(t, failure, "connection reset")

	require.NoError(t, e.Sync(ctx))
	assert.Empty(t, e.Value("farm_name").Text())
	session, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, SessionFailed, session.Status)
	assert.Equal(t, StateIdle, e.State())

	_, err = e.SubmitChat(ctx, ChatRequest{Message: "retry"})
	require.NoError(t, err)
	waitFor(t, n.completed, "retry completed")

	calls := transport.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []assistant.Message{{Role: assistant.RoleUser, Content: "retry"}}, calls[1].History)
}

func TestEngine_TransportPanicFailsReply(t *testing.T) {
	n := newNotifications()
	transport := assistant.TransportFunc(func(context.Context, []assistant.Message, string, func(string)) error {
		panic("decoder exploded")
	})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "go"})
	require.NoError(t, err)

	failure := waitFor(t, n.failed, "reply failed")
	assert.ErrorIs(t, failure, ErrTransportFailed)
	assert.ErrorContains(t, failure, "decoder exploded")
}

func TestEngine_SubmitChatRejections(t *testing.T) {
	ctx := testContext(t)

	t.Run("no template", func(t *testing.T) {
		e := startEngine(t, assistant.NewScripted())
		_, err := e.SubmitChat(ctx, ChatRequest{Message: "hi"})
		assert.ErrorIs(t, err, ErrNoTemplate)
	})

	t.Run("no transport", func(t *testing.T) {
		e := startEngine(t, nil)
		require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
		_, err := e.SubmitChat(ctx, ChatRequest{Message: "hi"})
		assert.True(t, IsTransportFailure(err))
	})

	t.Run("empty message", func(t *testing.T) {
		e := startEngine(t, assistant.NewScripted())
		require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
		_, err := e.SubmitChat(ctx, ChatRequest{Message: "   "})
		assert.Error(t, err)
		_, ok := e.Session()
		assert.False(t, ok)
	})
}

func TestEngine_SecondChatRejectedWhileStreaming(t *testing.T) {
	n := newNotifications()
	release := make(chan struct{})
	transport := assistant.NewScripted(assistant.Reply{Chunks: []string{"thinking"}, Release: release})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	id, err := e.SubmitChat(ctx, ChatRequest{Message: "first"})
	require.NoError(t, err)
	assert.Equal(t, StateStreamingReply, e.State())

	_, err = e.SubmitChat(ctx, ChatRequest{Message: "second"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamInProgress)
	assert.True(t, IsStreamInProgress(err))
	assert.Contains(t, err.Error(), id)

	close(release)
	res := waitFor(t, n.completed, "reply completed")
	assert.Equal(t, id, res.Session.ID)
	assert.Equal(t, "thinking", res.Session.VisibleText)
	assert.Len(t, transport.Calls(), 1)
}

func TestEngine_SwitchingTemplateIsolatesLateReply(t *testing.T) {
	n := newNotifications()
	kv := testutil.NewMemoryKV()
	release := make(chan struct{})

	// Ignores ctx so its late chunk and completion still arrive.
	transport := assistant.TransportFunc(func(_ context.Context, _ []assistant.Message, _ string, onChunk func(string)) error {
		onChunk(`<form_update>{"farm_name":"Late Farm"}`)
		<-release
		onChunk("</form_update>")
		return nil
	})
	e := startEngine(t, transport, WithPersister(kv), WithObserver(n.observer()))
	ctx := testContext(t)

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	id, err := e.SubmitChat(ctx, ChatRequest{Message: "fill it"})
	require.NoError(t, err)

	require.NoError(t, e.OpenTemplate(ctx, testutil.AnimalHealthID, ""))
	cancelled := waitFor(t, n.cancelled, "reply cancelled")
	assert.Equal(t, id, cancelled.ID)
	assert.Equal(t, SessionCancelled, cancelled.Status)
	assert.Equal(t, StateIdle, e.State())

	close(release)
	for {
		if waitFor(t, n.stale, "stale completion") == id+"/completion" {
			break
		}
	}

	require.NoError(t, e.Sync(ctx))
	assert.Empty(t, e.Snapshot(), "late reply must not touch the new form")
	assert.NotContains(t, kv.Raw(StoreKey(DefaultNamespace, testutil.BiosecurityID)), "Late Farm")
	assert.NotContains(t, kv.Raw(StoreKey(DefaultNamespace, testutil.AnimalHealthID)), "Late Farm")
	select {
	case r := <-n.completed:
		t.Fatalf("cancelled session completed: %+v", r.Session)
	default:
	}
}

func TestEngine_ChunksObservedInOrder(t *testing.T) {
	n := newNotifications()
	transport := assistant.NewScripted(assistant.Reply{Chunks: []string{"Wash ", "hands ", "often."}})
	e := startEngine(t, transport, WithObserver(n.observer()))
	ctx := testContext(t)
	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))

	_, err := e.SubmitChat(ctx, ChatRequest{Message: "tips"})
	require.NoError(t, err)
	waitFor(t, n.completed, "reply completed")

	assert.Equal(t, []string{"Wash", "Wash hands", "Wash hands often."}, n.visibleUpdates())
}

func TestEngine_RecordsChangeHistory(t *testing.T) {
	log := &testutil.ChangeLog{}
	profile := prefill.ProfileFromStrings(map[string]string{"organization_name": "Green Acres"})
	e := startEngine(t, nil,
		WithRecorder(log),
		WithClock(testutil.NewDeterministicClock()),
		WithProfile(profile),
	)
	ctx := testContext(t)

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	require.NoError(t, e.UserEdit(ctx, "farm_name", form.Scalar("Renamed")))

	changes := log.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, formstate.Change{
		Seq: 1, Key: "sop:default:4", Source: formstate.SourcePrefill,
		FieldID: "farm_name", Value: form.Scalar("Green Acres"),
	}, changes[0])
	assert.Equal(t, int64(2), changes[1].Seq)
	assert.Equal(t, formstate.SourceUser, changes[1].Source)
}

func TestEngine_StopFlushesAndRejectsCommands(t *testing.T) {
	kv := testutil.NewMemoryKV()
	e := New(testutil.Registry(t), nil,
		WithPersister(kv),
		WithStoreOptions(formstate.WithDebounce(time.Hour)),
	)
	ctx := testContext(t)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.NoError(t, e.OpenTemplate(ctx, testutil.BiosecurityID, ""))
	require.NoError(t, e.UserEdit(ctx, "farm_name", form.Scalar("Hill Farm")))
	assert.Equal(t, 0, kv.Writes(), "write should be debounced")

	e.Stop()
	assert.NoError(t, waitFor(t, done, "run exit"))
	assert.Equal(t, 1, kv.Writes())
	assert.Contains(t, kv.Raw(StoreKey(DefaultNamespace, testutil.BiosecurityID)), "Hill Farm")

	assert.ErrorIs(t, e.UserEdit(ctx, "farm_name", form.Scalar("x")), ErrStopped)
	assert.ErrorIs(t, e.Sync(ctx), ErrStopped)
}

func TestEngine_RunReturnsOnContextCancel(t *testing.T) {
	e := New(testutil.Registry(t), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	require.NoError(t, e.Sync(testContext(t)))

	cancel()
	assert.ErrorIs(t, waitFor(t, done, "run exit"), context.Canceled)
	_, err := e.SubmitChat(testContext(t), ChatRequest{Message: "late"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRuntimeError_Format(t *testing.T) {
	err := newTransportError("session-3", errors.New("eof"))
	assert.Equal(t, "TRANSPORT_FAILED: assistant reply failed, form unchanged (session=session-3): eof", err.Error())
	assert.True(t, strings.HasPrefix(newUnknownTemplateError(9).Error(), "UNKNOWN_TEMPLATE"))
	assert.Contains(t, newUnknownTemplateError(9).Error(), "(template=9)")
}
