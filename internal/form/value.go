package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnsupportedValue is returned when decoded JSON is neither a string,
// an array of strings, nor null.
var ErrUnsupportedValue = errors.New("unsupported field value")

// Kind distinguishes the three value shapes.
type Kind uint8

const (
	// KindEmpty is the zero value: nothing has been entered.
	KindEmpty Kind = iota
	// KindScalar holds a single string (text, textarea, date, select).
	KindScalar
	// KindList holds an ordered list of strings (checkbox-multiple).
	KindList
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable field value.
// The zero Value is empty.
type Value struct {
	kind   Kind
	scalar string
	list   []string
}

// Empty returns the empty value.
func Empty() Value {
	return Value{}
}

// Scalar creates a scalar value. Scalar("") is a scalar that reads as empty.
func Scalar(s string) Value {
	return Value{kind: KindScalar, scalar: s}
}

// List creates a list value. The items are copied.
// A list with no items stores nil so that List() and a decoded [] compare equal.
func List(items ...string) Value {
	if len(items) == 0 {
		return Value{kind: KindList}
	}
	return Value{kind: KindList, list: slices.Clone(items)}
}

// Kind returns the value shape.
func (v Value) Kind() Kind {
	return v.kind
}

// IsEmpty reports whether the value counts as unfilled: the empty value,
// an empty string or an empty list.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindScalar:
		return v.scalar == ""
	case KindList:
		return len(v.list) == 0
	default:
		return true
	}
}

// IsList reports whether the value is a list.
func (v Value) IsList() bool {
	return v.kind == KindList
}

// IsScalar reports whether the value is a scalar.
func (v Value) IsScalar() bool {
	return v.kind == KindScalar
}

// Text returns the scalar string, or the list items joined with ", ".
func (v Value) Text() string {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

// Items returns a copy of the list items. Scalars return nil.
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	return slices.Clone(v.list)
}

// Equal reports whether two values have the same shape and content.
// Two empty values of different kinds are NOT equal; use IsEmpty for that.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindScalar:
		return v.scalar == o.scalar
	case KindList:
		return slices.Equal(v.list, o.list)
	default:
		return true
	}
}

// String implements fmt.Stringer for logs and test output.
func (v Value) String() string {
	switch v.kind {
	case KindScalar:
		return fmt.Sprintf("%q", v.scalar)
	case KindList:
		return fmt.Sprintf("%q", v.list)
	default:
		return "<empty>"
	}
}

// MarshalJSON encodes scalars as strings, lists as arrays and empty as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindScalar:
		return json.Marshal(v.scalar)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a string, an array of strings or null.
// Any other JSON type is rejected with ErrUnsupportedValue; no coercion happens.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty JSON", ErrUnsupportedValue)
	}

	switch data[0] {
	case 'n':
		*v = Empty()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Scalar(s)
		return nil
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("%w: array must contain only strings", ErrUnsupportedValue)
		}
		*v = List(items...)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, string(data))
	}
}

// ValueFromAny converts a value produced by encoding/json (decoded into any)
// into a Value. Strings become scalars, arrays whose elements are all strings
// become lists, nil becomes empty. Everything else is rejected.
func ValueFromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Empty(), nil
	case Value:
		return val, nil
	case string:
		return Scalar(val), nil
	case []string:
		return List(val...), nil
	case []any:
		items := make([]string, len(val))
		for i, elem := range val {
			s, ok := elem.(string)
			if !ok {
				return Value{}, fmt.Errorf("%w: list item %d is %T", ErrUnsupportedValue, i, elem)
			}
			items[i] = s
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}
