package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/engine"
	"github.com/roach88/sopsync/internal/formstate"
)

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Link        string
	Interactive bool
	OnlyEmpty   bool // interactive: skip fields that already have a value
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <template-id> [field=value ...]",
		Short: "Edit form fields",
		Long: `Set form fields as the user. User edits always overwrite the current
value; an empty value clears the field. Checkbox fields take a
comma-separated list.

With --interactive every field is prompted in template order.

Examples:
  sopsync edit 4 farm_name="Green Acres" risk_level=High
  sopsync edit 4 hazards="Visitors,Feed"
  sopsync edit 4 notes=
  sopsync edit 4 --interactive --only-empty`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Link, "link", "", "share link to prefill from when the form is new")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "prompt for each field")
	cmd.Flags().BoolVar(&opts.OnlyEmpty, "only-empty", false, "with --interactive, prompt only for empty fields")
	return cmd
}

type assignment struct {
	field string
	raw   string
}

func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, a := range args {
		field, raw, ok := strings.Cut(a, "=")
		if !ok || field == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid assignment %q: want field=value", a))
		}
		out = append(out, assignment{field: field, raw: raw})
	}
	return out, nil
}

func runEdit(opts *EditOptions, idArg string, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	id, err := parseTemplateID(idArg)
	if err != nil {
		return err
	}
	assignments, err := parseAssignments(args)
	if err != nil {
		return err
	}
	if len(assignments) == 0 && !opts.Interactive {
		return NewExitError(ExitCommandError, "nothing to edit: pass field=value pairs or --interactive")
	}
	cfg, err := opts.settings()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sess, err := openSession(ctx, cfg, nil, nil)
	if err != nil {
		return err
	}
	if err := sess.openTemplate(ctx, formatter, id, opts.Link); err != nil {
		_ = sess.Close()
		return err
	}
	tmpl, _ := sess.engine.ActiveTemplate()

	editErr := func() error {
		for _, a := range assignments {
			field, ok := tmpl.Field(a.field)
			if !ok {
				return formatter.Fail(ExitFailure, ErrCodeUnknownField,
					fmt.Sprintf("template %d has no field %q", id, a.field), nil)
			}
			if err := sess.engine.UserEdit(ctx, a.field, parseFieldValue(field, a.raw)); err != nil {
				return editFailure(formatter, a.field, err)
			}
		}

		if !opts.Interactive {
			return nil
		}
		prompter := newPrompter()
		for _, field := range tmpl.Fields() {
			current := sess.engine.Value(field.ID)
			if opts.OnlyEmpty && !current.IsEmpty() {
				continue
			}
			v, err := promptField(ctx, prompter, field, current)
			if err != nil {
				if errors.Is(err, ErrAborted) {
					return NewExitError(ExitFailure, "edit aborted")
				}
				return WrapExitError(ExitCommandError, "prompt failed", err)
			}
			if v.Equal(current) || (v.IsEmpty() && current.IsEmpty()) {
				continue
			}
			if err := sess.engine.UserEdit(ctx, field.ID, v); err != nil {
				return editFailure(formatter, field.ID, err)
			}
		}
		return nil
	}()

	status := sess.status()
	if err := sess.Close(); err != nil && editErr == nil {
		editErr = WrapExitError(ExitCommandError, "failed to save form", err)
	}
	if editErr != nil {
		return editErr
	}
	return outputStatus(formatter, status)
}

func editFailure(f *OutputFormatter, field string, err error) error {
	switch {
	case errors.Is(err, formstate.ErrUnknownField):
		return f.Fail(ExitFailure, ErrCodeUnknownField, err.Error(), map[string]string{"field": field})
	case errors.Is(err, formstate.ErrShapeMismatch):
		return f.Fail(ExitFailure, ErrCodeShapeMismatch, err.Error(), map[string]string{"field": field})
	case errors.Is(err, engine.ErrStopped):
		return WrapExitError(ExitCommandError, "engine stopped", err)
	default:
		return WrapExitError(ExitFailure, fmt.Sprintf("edit %s", field), err)
	}
}
