package harness

import (
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
	"github.com/roach88/sopsync/internal/review"
)

// ChangeEvent is one field write read back from the change history.
type ChangeEvent struct {
	Seq    int64      `json:"seq"`
	Key    string     `json:"key"`
	Source string     `json:"source"`
	Field  string     `json:"field"`
	Value  form.Value `json:"value"`
}

// ReplyEvent is the outcome of one chat step.
type ReplyEvent struct {
	Session string           `json:"session"`
	Status  string           `json:"status"`
	Visible string           `json:"visible"`
	Applied []string         `json:"applied"`
	Skipped []formstate.Skip `json:"skipped"`
	Error   string           `json:"error,omitempty"`
}

// StepError records a step that failed, expected or not.
type StepError struct {
	Step int    `json:"step"`
	Kind string `json:"kind"`
	Code string `json:"code"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected and
	// every assertion held.
	Pass bool `json:"pass"`

	// Changes is the change history in sequence order.
	Changes []ChangeEvent `json:"changes"`

	// Replies holds one entry per chat step that started a reply.
	Replies []ReplyEvent `json:"replies"`

	// StepErrors lists steps that returned an error.
	StepErrors []StepError `json:"step_errors"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the active form at the end of the scenario.
	State form.State `json:"state"`

	// Review is the completion report for State, if a template was open.
	Review review.Report `json:"review"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Changes:    []ChangeEvent{},
		Replies:    []ReplyEvent{},
		StepErrors: []StepError{},
		Errors:     []string{},
		State:      form.State{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
