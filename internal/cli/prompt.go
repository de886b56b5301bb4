package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/schema"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("prompt aborted")

// noneOption lets a select field be cleared.
const noneOption = "(none)"

// dateLayout is the value format date fields are prompted in.
const dateLayout = "2006-01-02"

// Prompter asks for one field value at a time. The survey implementation
// drives a terminal; tests substitute a scripted one.
type Prompter interface {
	Input(ctx context.Context, label, current string, validate func(string) error) (string, error)
	TextArea(ctx context.Context, label, current string) (string, error)
	Select(ctx context.Context, label string, options []string, current string) (string, error)
	MultiSelect(ctx context.Context, label string, options, current []string) ([]string, error)
}

// newPrompter builds the prompter used by interactive edits.
var newPrompter = func() Prompter { return surveyPrompter{} }

// promptField asks for a new value of f, starting from current.
func promptField(ctx context.Context, p Prompter, f schema.FieldDef, current form.Value) (form.Value, error) {
	label := f.Label
	if f.Required {
		label += " *"
	}

	switch f.Type {
	case schema.FieldCheckboxMultiple:
		items, err := p.MultiSelect(ctx, label, f.Options, current.Items())
		if err != nil {
			return form.Value{}, err
		}
		return form.List(items...), nil
	case schema.FieldSelect:
		options := append([]string{noneOption}, f.Options...)
		cur := current.Text()
		if cur == "" {
			cur = noneOption
		}
		choice, err := p.Select(ctx, label, options, cur)
		if err != nil {
			return form.Value{}, err
		}
		if choice == noneOption {
			return form.Empty(), nil
		}
		return form.Scalar(choice), nil
	case schema.FieldTextarea:
		text, err := p.TextArea(ctx, label, current.Text())
		if err != nil {
			return form.Value{}, err
		}
		return form.Scalar(text), nil
	case schema.FieldDate:
		text, err := p.Input(ctx, label+" ("+dateLayout+")", current.Text(), validateDate)
		if err != nil {
			return form.Value{}, err
		}
		return form.Scalar(text), nil
	default:
		text, err := p.Input(ctx, label, current.Text(), nil)
		if err != nil {
			return form.Value{}, err
		}
		return form.Scalar(text), nil
	}
}

func validateDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return fmt.Errorf("expected a date like %s", dateLayout)
	}
	return nil
}

type surveyPrompter struct{}

func (surveyPrompter) Input(ctx context.Context, label, current string, validate func(string) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	prompt := &survey.Input{Message: label, Default: current}
	var opts []survey.AskOpt
	if validate != nil {
		opts = append(opts, survey.WithValidator(func(ans any) error {
			s, _ := ans.(string)
			return validate(s)
		}))
	}
	if err := survey.AskOne(prompt, &out, opts...); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

func (surveyPrompter) TextArea(ctx context.Context, label, current string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	prompt := &survey.Multiline{Message: label, Default: current}
	if err := survey.AskOne(prompt, &out); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

func (surveyPrompter) Select(ctx context.Context, label string, options []string, current string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	prompt := &survey.Select{Message: label, Options: options}
	for _, o := range options {
		if o == current {
			prompt.Default = current
			break
		}
	}
	if err := survey.AskOne(prompt, &out); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

func (surveyPrompter) MultiSelect(ctx context.Context, label string, options, current []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	prompt := &survey.MultiSelect{Message: label, Options: options}
	var defaults []string
	for _, c := range current {
		for _, o := range options {
			if o == c {
				defaults = append(defaults, c)
				break
			}
		}
	}
	if len(defaults) > 0 {
		prompt.Default = defaults
	}
	if err := survey.AskOne(prompt, &out); err != nil {
		return nil, translateSurveyErr(err)
	}
	return out, nil
}

func translateSurveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrAborted
	}
	return err
}
