package harness

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/sopsync/internal/form"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Diff     string // go-cmp diff (-want +got), if any
	Changes  []ChangeEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Diff != "" {
		fmt.Fprintf(&buf, "  Diff (-want +got):\n%s", e.Diff)
	}

	if len(e.Changes) > 0 {
		fmt.Fprintf(&buf, "\nChange history:\n")
		for _, c := range e.Changes {
			fmt.Fprintf(&buf, "  [%d] %s %s = %s\n", c.Seq, c.Source, c.Field, c.Value)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertField:
			err = assertField(result, a)
		case AssertMissingRequired:
			err = assertMissingRequired(result, a)
		case AssertCompletion:
			err = assertCompletion(result, a)
		case AssertChangeCount:
			err = assertChangeCount(result, a)
		case AssertChangeOrder:
			err = assertChangeOrder(result, a)
		case AssertReply:
			err = assertReply(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertField compares the final value of one field. A null expectation
// matches an empty value of any shape.
func assertField(result *Result, a Assertion) error {
	want, err := form.ValueFromAny(a.Equals)
	if err != nil {
		return fmt.Errorf("field %s: bad expectation: %w", a.Field, err)
	}
	got := result.State.Get(a.Field)

	if want.IsEmpty() && got.IsEmpty() || want.Equal(got) {
		return nil
	}
	return &AssertionError{
		Type:     AssertField,
		Expected: fmt.Sprintf("%s = %s", a.Field, want),
		Actual:   fmt.Sprintf("%s = %s", a.Field, got),
		Diff:     cmp.Diff(plain(want), plain(got)),
		Changes:  result.Changes,
	}
}

func assertMissingRequired(result *Result, a Assertion) error {
	want := a.Fields
	if want == nil {
		want = []string{}
	}
	got := result.Review.MissingRequired
	if got == nil {
		got = []string{}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return &AssertionError{
			Type:     AssertMissingRequired,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
			Diff:     diff,
		}
	}
	return nil
}

func assertCompletion(result *Result, a Assertion) error {
	if result.Review.Percent != *a.Percent {
		return &AssertionError{
			Type:     AssertCompletion,
			Expected: fmt.Sprintf("%d%%", *a.Percent),
			Actual: fmt.Sprintf("%d%% (%d of %d fields)",
				result.Review.Percent, result.Review.Filled, result.Review.Total),
		}
	}
	return nil
}

// assertChangeCount counts recorded changes; empty Source or Field match any.
func assertChangeCount(result *Result, a Assertion) error {
	count := 0
	for _, c := range result.Changes {
		if (a.Source == "" || c.Source == a.Source) && (a.Field == "" || c.Field == a.Field) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertChangeCount,
			Expected: fmt.Sprintf("%d changes (source=%q field=%q)", *a.Count, a.Source, a.Field),
			Actual:   fmt.Sprintf("%d changes", count),
			Changes:  result.Changes,
		}
	}
	return nil
}

// assertChangeOrder checks that the first change of each field happens in
// the given order. Intervening changes are allowed.
func assertChangeOrder(result *Result, a Assertion) error {
	positions := make(map[string]int)
	for i, c := range result.Changes {
		if _, seen := positions[c.Field]; !seen {
			positions[c.Field] = i + 1 // 1-indexed for readability
		}
	}

	for _, field := range a.Fields {
		if positions[field] == 0 {
			return &AssertionError{
				Type:     AssertChangeOrder,
				Expected: fmt.Sprintf("changes to all of %v", a.Fields),
				Actual:   fmt.Sprintf("no change to %s", field),
				Changes:  result.Changes,
			}
		}
	}

	for i := 1; i < len(a.Fields); i++ {
		prev, curr := a.Fields[i-1], a.Fields[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertChangeOrder,
				Expected: fmt.Sprintf("changes in order: %v", a.Fields),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Changes: result.Changes,
			}
		}
	}
	return nil
}

func assertReply(result *Result, a Assertion) error {
	if a.Index >= len(result.Replies) {
		return &AssertionError{
			Type:     AssertReply,
			Expected: fmt.Sprintf("reply %d", a.Index),
			Actual:   fmt.Sprintf("%d replies", len(result.Replies)),
		}
	}
	got := result.Replies[a.Index]

	if got.Status != a.Status {
		return &AssertionError{
			Type:     AssertReply,
			Expected: fmt.Sprintf("reply %d status %s", a.Index, a.Status),
			Actual:   fmt.Sprintf("status %s (error %q)", got.Status, got.Error),
		}
	}
	if a.Visible != nil && got.Visible != *a.Visible {
		return &AssertionError{
			Type:     AssertReply,
			Expected: fmt.Sprintf("reply %d visible %q", a.Index, *a.Visible),
			Actual:   fmt.Sprintf("visible %q", got.Visible),
			Diff:     cmp.Diff(*a.Visible, got.Visible),
		}
	}
	if a.Applied != nil {
		if diff := cmp.Diff(a.Applied, got.Applied); diff != "" {
			return &AssertionError{
				Type:     AssertReply,
				Expected: fmt.Sprintf("reply %d applied %v", a.Index, a.Applied),
				Actual:   fmt.Sprintf("applied %v", got.Applied),
				Diff:     diff,
			}
		}
	}
	return nil
}

// plain converts a value to builtin types for diffing.
func plain(v form.Value) any {
	switch {
	case v.IsList():
		return v.Items()
	case v.IsScalar():
		return v.Text()
	default:
		return nil
	}
}
