package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario.
// A scenario opens templates, edits fields and chats with a scripted
// assistant, then asserts on the final form and the recorded history.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Templates lists template files (CUE or YAML) to register.
	// Paths are relative to the scenario file location.
	Templates []string `yaml:"templates"`

	// Namespace scopes persistence keys. Defaults to "default".
	Namespace string `yaml:"namespace,omitempty"`

	// Profile is the initial prefill profile.
	Profile map[string]string `yaml:"profile,omitempty"`

	// Replies are played back, in order, one per chat step.
	Replies []ScriptedReply `yaml:"replies,omitempty"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and history.
	Assertions []Assertion `yaml:"assertions"`
}

// ScriptedReply is one canned assistant reply.
type ScriptedReply struct {
	Chunks []string `yaml:"chunks"`

	// Error, when set, fails the reply after its chunks are delivered.
	Error string `yaml:"error,omitempty"`
}

// Step is one user action. Exactly one of Open, Profile, Edit or Chat is set.
type Step struct {
	Open    *OpenStep         `yaml:"open,omitempty"`
	Profile map[string]string `yaml:"profile,omitempty"`
	Edit    *EditStep         `yaml:"edit,omitempty"`
	Chat    string            `yaml:"chat,omitempty"`

	// ExpectError is the error code the step must fail with, for example
	// NO_TEMPLATE or unknown_field. Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// OpenStep opens a template, optionally through a share link.
type OpenStep struct {
	Template int `yaml:"template"`

	// Share is encoded into a share link for this open.
	Share *SharePayload `yaml:"share,omitempty"`

	// Link is passed through verbatim, for undecodable link cases.
	Link string `yaml:"link,omitempty"`
}

// SharePayload mirrors prefill.SharePayload in scenario form.
type SharePayload struct {
	Template int            `yaml:"template"`
	Data     map[string]any `yaml:"data"`
}

// EditStep is a user edit. A null value clears the field.
type EditStep struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
}

// Kind names the action a step performs.
func (s Step) Kind() string {
	switch {
	case s.Open != nil:
		return "open"
	case s.Profile != nil:
		return "profile"
	case s.Edit != nil:
		return "edit"
	case s.Chat != "":
		return "chat"
	default:
		return ""
	}
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "field": final value of Field equals Equals (null for empty)
	// - "missing_required": MissingRequired lists Fields in schema order
	// - "completion": completion percent equals Percent
	// - "change_count": number of recorded changes matching Source/Field
	// - "change_order": first changes of Fields happen in this order
	// - "reply": reply Index has Status, and Visible/Applied when given
	Type string `yaml:"type"`

	Field  string   `yaml:"field,omitempty"`
	Equals any      `yaml:"equals,omitempty"`
	Fields []string `yaml:"fields,omitempty"`

	Percent *int `yaml:"percent,omitempty"`

	Source string `yaml:"source,omitempty"`
	Count  *int   `yaml:"count,omitempty"`

	Index   int      `yaml:"index,omitempty"`
	Status  string   `yaml:"status,omitempty"`
	Visible *string  `yaml:"visible,omitempty"`
	Applied []string `yaml:"applied,omitempty"`
}

// Assertion type constants.
const (
	AssertField           = "field"
	AssertMissingRequired = "missing_required"
	AssertCompletion      = "completion"
	AssertChangeCount     = "change_count"
	AssertChangeOrder     = "change_order"
	AssertReply           = "reply"
)

// LoadScenario reads and parses a scenario YAML file, resolving template
// paths relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving template paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, p := range scenario.Templates {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Templates[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes a scenario without resolving or validating paths.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Templates) == 0 {
		return fmt.Errorf("templates list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range s.Templates {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("template file not found: %s", p)
		}
	}

	chats := 0
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
		if step.Chat != "" {
			chats++
		}
	}
	if chats < len(s.Replies) {
		return fmt.Errorf("%d replies scripted for %d chat steps", len(s.Replies), chats)
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	set := 0
	for _, ok := range []bool{s.Open != nil, s.Profile != nil, s.Edit != nil, s.Chat != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of open, profile, edit, chat is required", index)
	}
	if s.Edit != nil && s.Edit.Field == "" {
		return fmt.Errorf("steps[%d].edit: field is required", index)
	}
	if s.Open != nil && s.Open.Share != nil && s.Open.Link != "" {
		return fmt.Errorf("steps[%d].open: share and link are mutually exclusive", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertField:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for field", index)
		}
	case AssertMissingRequired:
		// An empty list asserts nothing is missing.
	case AssertCompletion:
		if a.Percent == nil {
			return fmt.Errorf("assertions[%d]: percent is required for completion", index)
		}
	case AssertChangeCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for change_count", index)
		}
	case AssertChangeOrder:
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields list is required for change_order", index)
		}
	case AssertReply:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for reply", index)
		}
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative for reply", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
