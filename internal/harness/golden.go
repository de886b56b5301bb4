package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sopsync/internal/form"
)

// Snapshot captures the observable outcome of a scenario for golden
// comparison. Field order is fixed and map keys are sorted by
// encoding/json, so the output is byte-stable.
type Snapshot struct {
	ScenarioName    string        `json:"scenario_name"`
	Changes         []ChangeEvent `json:"changes"`
	Replies         []ReplyEvent  `json:"replies"`
	StepErrors      []StepError   `json:"step_errors"`
	FinalState      form.State    `json:"final_state"`
	Percent         int           `json:"percent"`
	MissingRequired []string      `json:"missing_required"`
}

// NewSnapshot builds the snapshot for a result.
func NewSnapshot(name string, result *Result) Snapshot {
	missing := result.Review.MissingRequired
	if missing == nil {
		missing = []string{}
	}
	state := result.State
	if state == nil {
		state = form.State{}
	}
	return Snapshot{
		ScenarioName:    name,
		Changes:         result.Changes,
		Replies:         result.Replies,
		StepErrors:      result.StepErrors,
		FinalState:      state,
		Percent:         result.Review.Percent,
		MissingRequired: missing,
	}
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
// HTML characters are not escaped so goldens stay readable.
func (s Snapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
