package stream

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sopsync/internal/form"
)

const replyWithBlock = "Here is a draft for your biosecurity plan.\n" +
	"<form_update>\n{\"farm_name\": \"Green Acres\", \"hazards\": [\"Visitors\", \"Feed\"]}\n</form_update>\n" +
	"Let me know if anything needs changing."

func TestFeed_StripsCompletedBlock(t *testing.T) {
	p := NewParser()
	visible := p.Feed(replyWithBlock)
	assert.Equal(t, "Here is a draft for your biosecurity plan.\n\n"+
		"Let me know if anything needs changing.", visible)
}

func TestFeed_WithholdsOpenBlock(t *testing.T) {
	p := NewParser()
	assert.Equal(t, "Sure.", p.Feed("Sure. <form_update>{\"farm_na"))
	assert.Equal(t, "Sure.", p.Feed("me\": \"X\"}</form_upd"))
	assert.Equal(t, "Sure.  Done.", p.Feed("ate> Done."))
}

func TestFeed_WithholdsPartialOpenMarker(t *testing.T) {
	p := NewParser()
	assert.Equal(t, "Hello", p.Feed("Hello <form_up"))
	assert.Equal(t, "Hello", p.Feed("date>"))
}

func TestFeed_ReleasesDisprovedMarkerPrefix(t *testing.T) {
	p := NewParser()
	assert.Equal(t, "Risk is", p.Feed("Risk is <"))
	assert.Equal(t, "Risk is < 5%", p.Feed(" 5%"))

	p = NewParser()
	assert.Equal(t, "a", p.Feed("a <form"))
	assert.Equal(t, "a <formal> b", p.Feed("al> b"))
}

func TestFeed_NeverShowsMarkerSyntaxWhileStreaming(t *testing.T) {
	p := NewParser()
	for _, r := range replyWithBlock {
		visible := p.Feed(string(r))
		assert.NotContains(t, visible, "<form")
		assert.NotContains(t, visible, "farm_name")
		assert.NotContains(t, visible, "</form_update")
	}
}

func TestStreamingVisibilityInvariant(t *testing.T) {
	expected := strings.TrimSpace(
		"Here is a draft for your biosecurity plan.\n\nLet me know if anything needs changing.")

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		p := NewParser()
		for _, chunk := range randomChunks(rng, replyWithBlock) {
			p.Feed(chunk)
		}
		res := p.Finalize()
		require.Equal(t, expected, res.VisibleText, "trial %d", trial)
		require.Equal(t, expected, p.Visible(), "trial %d", trial)
		require.True(t, res.Found)
		require.NoError(t, res.Err)
	}
}

func TestFinalize_DecodesUpdate(t *testing.T) {
	res := Extract(replyWithBlock)

	require.NoError(t, res.Err)
	require.True(t, res.Found)
	require.NotNil(t, res.Update)
	assert.Equal(t, form.Scalar("Green Acres"), res.Update["farm_name"])
	assert.Equal(t, form.List("Visitors", "Feed"), res.Update["hazards"])
	assert.Equal(t, `{"farm_name": "Green Acres", "hazards": ["Visitors", "Feed"]}`, res.Raw)
}

func TestFinalize_NoBlock(t *testing.T) {
	res := Extract("  Just a normal answer.  ")
	assert.Equal(t, "Just a normal answer.", res.VisibleText)
	assert.Nil(t, res.Update)
	assert.False(t, res.Found)
	assert.NoError(t, res.Err)
}

func TestFinalize_MalformedPayloadTolerance(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"invalid json", "Draft ready. <form_update>{farm_name: oops</form_update>"},
		{"array", "Draft ready. <form_update>[\"a\"]</form_update>"},
		{"null", "Draft ready. <form_update>null</form_update>"},
		{"empty", "Draft ready. <form_update>   </form_update>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() { res = Extract(tt.text) })
			assert.Equal(t, "Draft ready.", res.VisibleText)
			assert.Nil(t, res.Update)
			assert.True(t, res.Found)
			assert.True(t, errors.Is(res.Err, ErrMalformedUpdate))
		})
	}
}

func TestFinalize_EmptyObject(t *testing.T) {
	res := Extract("ok <form_update>{}</form_update>")
	require.NoError(t, res.Err)
	require.NotNil(t, res.Update)
	assert.Empty(t, res.Update)
}

func TestFinalize_RejectsNonStringValuesIndividually(t *testing.T) {
	res := Extract(`x <form_update>{"farm_name":"A","herd_size":120,"hazards":["Feed",3],"notes":null}</form_update>`)

	require.NoError(t, res.Err)
	assert.Equal(t, form.Scalar("A"), res.Update["farm_name"])
	assert.Equal(t, form.Empty(), res.Update["notes"])
	assert.NotContains(t, res.Update, "herd_size")
	assert.NotContains(t, res.Update, "hazards")

	var ids []string
	for _, r := range res.Rejected {
		ids = append(ids, r.FieldID)
	}
	assert.Equal(t, []string{"hazards", "herd_size"}, ids)
}

func TestFinalize_FirstBlockWins(t *testing.T) {
	text := "one <form_update>{\"a\":\"1\"}</form_update> two <form_update>{\"b\":\"2\"}</form_update>"
	res := Extract(text)

	require.NoError(t, res.Err)
	assert.Equal(t, form.Partial{"a": form.Scalar("1")}, res.Update)
	assert.Equal(t, "one  two <form_update>{\"b\":\"2\"}</form_update>", res.VisibleText)
}

func TestFinalize_UnterminatedBlockIsDropped(t *testing.T) {
	res := Extract("Working on it <form_update>{\"a\":\"1\"")
	assert.Equal(t, "Working on it", res.VisibleText)
	assert.Nil(t, res.Update)
	assert.False(t, res.Found)
	assert.NoError(t, res.Err)
}

func TestWithMarkers(t *testing.T) {
	p := NewParser(WithMarkers("[[update]]", "[[/update]]"))
	p.Feed("Noted. [[upd")
	assert.Equal(t, "Noted.", p.Visible())
	p.Feed("ate]]{\"notes\":\"hi\"}[[/update]]")

	res := p.Finalize()
	assert.Equal(t, "Noted.", res.VisibleText)
	assert.Equal(t, form.Partial{"notes": form.Scalar("hi")}, res.Update)
	assert.Equal(t, "Noted. [[update]]{\"notes\":\"hi\"}[[/update]]", p.Text())
}

func TestPartialPrefixLen(t *testing.T) {
	assert.Equal(t, 0, partialPrefixLen("abc", "<x>"))
	assert.Equal(t, 1, partialPrefixLen("abc <", "<x>"))
	assert.Equal(t, 2, partialPrefixLen("abc <x", "<x>"))
	assert.Equal(t, 0, partialPrefixLen("", "<x>"))
}

// randomChunks splits s at random byte offsets. Splits may land inside a
// multi-byte rune; the parser only ever sees the concatenation.
func randomChunks(rng *rand.Rand, s string) []string {
	var chunks []string
	for len(s) > 0 {
		n := 1 + rng.Intn(12)
		if n > len(s) {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
