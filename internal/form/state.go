package form

import (
	"fmt"
	"slices"
	"unicode/utf16"
)

// State maps field ids to values. It is the full form content for one
// template. Keys not present read as empty.
type State map[string]Value

// Get returns the value for a field, or the empty value.
func (s State) Get(fieldID string) Value {
	return s[fieldID]
}

// Clone returns a deep copy. Values are immutable, so copying the map suffices.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in canonical order (UTF-16 code units).
func (s State) SortedKeys() []string {
	return sortedKeys(s)
}

// Partial is a sparse set of field values to be merged into a State.
type Partial map[string]Value

// Clone returns a copy of the partial.
func (p Partial) Clone() Partial {
	out := make(Partial, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in canonical order so merges are applied
// deterministically.
func (p Partial) SortedKeys() []string {
	return sortedKeys(p)
}

// Rejection records a key dropped while converting untyped JSON.
type Rejection struct {
	FieldID string
	Reason  string
}

// PartialFromMap converts a decoded JSON object into a Partial. Keys whose
// values are not string / array-of-strings / null are dropped individually
// and reported, so valid siblings survive.
func PartialFromMap(raw map[string]any) (Partial, []Rejection) {
	out := make(Partial, len(raw))
	var rejected []Rejection
	for _, k := range sortedKeys(raw) {
		v, err := ValueFromAny(raw[k])
		if err != nil {
			rejected = append(rejected, Rejection{FieldID: k, Reason: err.Error()})
			continue
		}
		out[k] = v
	}
	return out, rejected
}

// String renders the rejection for logs.
func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.FieldID, r.Reason)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 orders strings by UTF-16 code units as RFC 8785 requires.
// Go's native string comparison is UTF-8 byte order, which differs for
// characters outside the BMP.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
