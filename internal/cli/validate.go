package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/schema"
)

// ValidationIssue is one template problem.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Files     int               `json:"files"`
	Templates int               `json:"templates"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [templates-dir]",
		Short: "Validate SOP templates",
		Long: `Validate CUE and YAML form templates.

Checks every template file for parse errors, missing ids, duplicate field
ids, unknown field types, choice fields without options and template ids
used twice. All problems are reported together.

The directory defaults to templates.dir from the config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.settings()
			if err != nil {
				return err
			}
			dir := cfg.Templates.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := schema.LoadDir(dir, schema.LoadModeCollectAll)
	if loadResult == nil {
		issue := toIssue(loadErrors[0])
		return formatter.Fail(ExitCommandError, issue.Code, issue.Message, nil)
	}

	formatter.VerboseLog("Found %d template file(s) in %s", len(loadResult.Files), dir)

	issues := make([]ValidationIssue, 0, len(loadErrors))
	// Parse errors carry the file name in the wrapping error only.
	for _, err := range loadErrors {
		issue := toIssue(err)
		issue.Message = err.Error()
		issues = append(issues, issue)
	}
	for i := range loadResult.Templates {
		formatter.VerboseLog("Validating template %d (%s)", loadResult.Templates[i].ID, loadResult.Templates[i].Key)
	}
	// NewRegistry runs schema.Validate on every template and adds the
	// cross-template duplicate id check.
	if _, regErrs := schema.NewRegistry(loadResult.Templates...); len(regErrs) > 0 {
		for _, err := range regErrs {
			issues = append(issues, toIssue(err))
		}
	}

	result := ValidationResult{
		Valid:     len(issues) == 0,
		Files:     len(loadResult.Files),
		Templates: len(loadResult.Templates),
		Errors:    issues,
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ All templates valid (%d template(s) in %d file(s))\n", result.Templates, result.Files)
	return nil
}

// toIssue converts a loader error into a ValidationIssue.
func toIssue(err error) ValidationIssue {
	var le *schema.LoadError
	if errors.As(err, &le) {
		issue := ValidationIssue{Code: le.Code, Path: le.Path, Message: le.Message}
		if le.Pos.IsValid() {
			issue.Line = le.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		first := result.Errors[0]
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range result.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		if issue.Path != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Path, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
