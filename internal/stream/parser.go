package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sopsync/internal/form"
)

// Default markers.
const (
	DefaultOpenMarker  = "<form_update>"
	DefaultCloseMarker = "</form_update>"
)

// ErrMalformedUpdate is reported when a complete block does not contain a
// JSON object. It is diagnostic only; the visible text is still usable.
var ErrMalformedUpdate = errors.New("malformed form update")

// Result is the outcome of Finalize.
type Result struct {
	// VisibleText is the full reply with the first block removed, trimmed.
	VisibleText string

	// Update is the decoded block, or nil when there was no complete block or
	// it did not decode to a JSON object. An empty object yields a non-nil,
	// empty Update.
	Update form.Partial

	// Raw is the trimmed block interior ("" when no complete block).
	Raw string

	// Found reports whether a complete block was present.
	Found bool

	// Rejected lists keys dropped because their values were neither strings
	// nor arrays of strings.
	Rejected []form.Rejection

	// Err is ErrMalformedUpdate (wrapped) when the block did not decode.
	Err error
}

// Option configures a Parser.
type Option func(*Parser)

// WithMarkers overrides the delimiter pair. Empty values keep the defaults.
func WithMarkers(open, close string) Option {
	return func(p *Parser) {
		if open != "" {
			p.open = open
		}
		if close != "" {
			p.close = close
		}
	}
}

// Parser accumulates one streamed reply. It is not safe for concurrent use;
// the orchestrator feeds it from its single event loop.
type Parser struct {
	open  string
	close string
	buf   strings.Builder
}

// NewParser creates a parser for one reply.
func NewParser(opts ...Option) *Parser {
	p := &Parser{open: DefaultOpenMarker, close: DefaultCloseMarker}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed appends a chunk and returns the visible text so far.
// Chunks must be fed in arrival order.
func (p *Parser) Feed(chunk string) string {
	p.buf.WriteString(chunk)
	return p.Visible()
}

// Visible returns the current visible text without consuming input.
func (p *Parser) Visible() string {
	before, _, after, state := p.split(p.buf.String())
	switch state {
	case blockNone:
		return strings.TrimSpace(before[:len(before)-partialPrefixLen(before, p.open)])
	case blockOpen:
		return strings.TrimSpace(before)
	default:
		return strings.TrimSpace(before + after)
	}
}

// Text returns everything fed so far.
func (p *Parser) Text() string {
	return p.buf.String()
}

// Finalize scans the full text once and extracts the update.
func (p *Parser) Finalize() Result {
	before, interior, after, state := p.split(p.buf.String())

	switch state {
	case blockNone:
		return Result{VisibleText: strings.TrimSpace(before)}
	case blockOpen:
		// An unterminated block never becomes visible, and never applies.
		return Result{VisibleText: strings.TrimSpace(before)}
	}

	res := Result{
		VisibleText: strings.TrimSpace(before + after),
		Raw:         strings.TrimSpace(interior),
		Found:       true,
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(res.Raw), &obj); err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
		return res
	}
	if obj == nil {
		res.Err = fmt.Errorf("%w: block is null", ErrMalformedUpdate)
		return res
	}

	res.Update, res.Rejected = form.PartialFromMap(obj)
	return res
}

// Extract runs both phases over a complete reply.
func Extract(text string, opts ...Option) Result {
	p := NewParser(opts...)
	p.Feed(text)
	return p.Finalize()
}

type blockState int

const (
	blockNone   blockState = iota // no open marker
	blockOpen                     // open marker without close marker
	blockClosed                   // complete block
)

// split locates the first block. For blockNone, before is the whole text.
func (p *Parser) split(text string) (before, interior, after string, state blockState) {
	i := strings.Index(text, p.open)
	if i < 0 {
		return text, "", "", blockNone
	}
	rest := text[i+len(p.open):]
	j := strings.Index(rest, p.close)
	if j < 0 {
		return text[:i], rest, "", blockOpen
	}
	return text[:i], rest[:j], rest[j+len(p.close):], blockClosed
}

// partialPrefixLen returns the length of the longest proper prefix of marker
// that text ends with.
func partialPrefixLen(text, marker string) int {
	for k := len(marker) - 1; k > 0; k-- {
		if strings.HasSuffix(text, marker[:k]) {
			return k
		}
	}
	return 0
}
