// Package sanitize strips markup from assistant-supplied field values before
// they are merged into a form.
package sanitize

import (
	"errors"
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/roach88/sopsync/internal/form"
)

// ErrNotMarkup is returned for values whose angle brackets enclose prose
// rather than HTML. Stripping them would silently drop words.
var ErrNotMarkup = errors.New("angle-bracket text is not markup")

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy

	spaceRun = regexp.MustCompile(`[ \t]{2,}`)
)

func textPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text removes every HTML element (and the content of script/style) and
// returns plain, unescaped, trimmed text. Tags that are not HTML elements,
// or carry attributes HTML does not define, yield ErrNotMarkup.
func Text(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if !markupOnly(trimmed) {
		return "", ErrNotMarkup
	}
	// The policy escapes what it keeps; field values are plain text.
	out := html.UnescapeString(textPolicy().Sanitize(trimmed))
	if out != trimmed {
		out = spaceRun.ReplaceAllString(out, " ")
	}
	return strings.TrimSpace(out), nil
}

// markupOnly reports whether every tag in s is a known HTML element with
// known attributes.
func markupOnly(s string) bool {
	if !strings.Contains(s, "<") {
		return true
	}
	z := nethtml.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			return errors.Is(z.Err(), io.EOF)
		case nethtml.StartTagToken, nethtml.EndTagToken, nethtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if atom.Lookup(name) == 0 {
				return false
			}
			for hasAttr {
				var key []byte
				key, _, hasAttr = z.TagAttr()
				if !knownAttr(key) {
					return false
				}
			}
		}
	}
}

func knownAttr(key []byte) bool {
	k := string(key)
	return atom.Lookup(key) != 0 || strings.HasPrefix(k, "data-") || strings.HasPrefix(k, "aria-")
}

// Value sanitizes a scalar or every list item. List items that end up empty
// are dropped. A list is rejected as a whole when any item is.
func Value(v form.Value) (form.Value, error) {
	switch v.Kind() {
	case form.KindScalar:
		s, err := Text(v.Text())
		if err != nil {
			return form.Empty(), err
		}
		return form.Scalar(s), nil
	case form.KindList:
		items := make([]string, 0, len(v.Items()))
		for _, item := range v.Items() {
			s, err := Text(item)
			if err != nil {
				return form.Empty(), err
			}
			if s != "" {
				items = append(items, s)
			}
		}
		return form.List(items...), nil
	default:
		return v, nil
	}
}

// Partial sanitizes every value of p into a new partial. Keys whose values
// are rejected are left out and reported.
func Partial(p form.Partial) (form.Partial, []form.Rejection) {
	if p == nil {
		return nil, nil
	}
	out := make(form.Partial, len(p))
	var rejected []form.Rejection
	for _, k := range p.SortedKeys() {
		v, err := Value(p[k])
		if err != nil {
			rejected = append(rejected, form.Rejection{FieldID: k, Reason: err.Error()})
			continue
		}
		out[k] = v
	}
	return out, rejected
}
