package prefill

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/sopsync/internal/form"
)

// FragmentMarker precedes the encoded payload in a share link.
const FragmentMarker = "#share="

// SharePayload is a form snapshot shared out of band.
type SharePayload struct {
	TemplateID int          `json:"templateId"`
	FormData   form.Partial `json:"formData"`
}

// Encode serializes p as FragmentMarker + base64url(JSON), unpadded.
func Encode(p SharePayload) (string, error) {
	if p.FormData == nil {
		p.FormData = form.Partial{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode share payload: %w", err)
	}
	return FragmentMarker + base64.RawURLEncoding.EncodeToString(data), nil
}

// ShareURL appends the encoded payload to base, replacing any fragment.
func ShareURL(base string, p SharePayload) (string, error) {
	frag, err := Encode(p)
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + frag, nil
}

// Decode extracts a payload from a full URL, a fragment, or the bare token.
//
// Decoding is lenient: standard or URL-safe base64, with or without
// padding, percent-escaped or not. Any failure returns ok=false. Individual
// formData values that are not strings or string arrays are dropped.
func Decode(link string) (SharePayload, bool) {
	token := strings.TrimSpace(link)
	if i := strings.Index(token, FragmentMarker); i >= 0 {
		token = token[i+len(FragmentMarker):]
	} else {
		token = strings.TrimPrefix(token, "share=")
	}
	if strings.Contains(token, "%") {
		unescaped, err := url.PathUnescape(token)
		if err != nil {
			return SharePayload{}, false
		}
		token = unescaped
	}
	token = strings.TrimRight(token, "=")
	token = strings.NewReplacer("+", "-", "/", "_").Replace(token)
	if token == "" {
		return SharePayload{}, false
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return SharePayload{}, false
	}

	var raw struct {
		TemplateID *int           `json:"templateId"`
		FormData   map[string]any `json:"formData"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.TemplateID == nil {
		return SharePayload{}, false
	}

	partial, _ := form.PartialFromMap(raw.FormData)
	return SharePayload{TemplateID: *raw.TemplateID, FormData: partial}, true
}
