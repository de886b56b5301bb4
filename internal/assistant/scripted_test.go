package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScripted_PlaysRepliesInOrder(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted(
		Reply{Chunks: []string{"a", "b"}},
		Reply{Chunks: []string{"c"}, Err: boom},
	)

	var chunks []string
	collect := func(c string) { chunks = append(chunks, c) }

	require.NoError(t, s.StreamReply(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "sys", collect))
	assert.ErrorIs(t, s.StreamReply(context.Background(), nil, "", collect), boom)
	assert.ErrorIs(t, s.StreamReply(context.Background(), nil, "", collect), ErrNoScriptedReply)

	assert.Equal(t, []string{"a", "b", "c"}, chunks)
	calls := s.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "sys", calls[0].SystemPrompt)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, calls[0].History)
}

func TestScripted_ReleaseHoldsReply(t *testing.T) {
	release := make(chan struct{})
	s := NewScripted(Reply{Chunks: []string{"x"}, Release: release})

	done := make(chan error, 1)
	go func() { done <- s.StreamReply(context.Background(), nil, "", func(string) {}) }()

	select {
	case <-done:
		t.Fatal("reply returned before release")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	assert.NoError(t, <-done)
}

func TestScripted_CancelWhileHeld(t *testing.T) {
	s := NewScripted(Reply{Chunks: []string{"x"}, Release: make(chan struct{})})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.StreamReply(ctx, nil, "", func(string) {}) }()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScripted_Push(t *testing.T) {
	s := NewScripted()
	s.Push(Reply{Chunks: []string{"late"}})

	var got string
	require.NoError(t, s.StreamReply(context.Background(), nil, "", func(c string) { got += c }))
	assert.Equal(t, "late", got)
}

func TestTransportFunc(t *testing.T) {
	var tr Transport = TransportFunc(func(ctx context.Context, history []Message, systemPrompt string, onChunk func(string)) error {
		onChunk(systemPrompt)
		return nil
	})
	var got string
	require.NoError(t, tr.StreamReply(context.Background(), nil, "echo", func(c string) { got = c }))
	assert.Equal(t, "echo", got)
}
