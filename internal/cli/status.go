package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/review"
	"github.com/roach88/sopsync/internal/schema"
)

// FormStatus is the state and review of one open form.
type FormStatus struct {
	TemplateID int           `json:"template_id"`
	Key        string        `json:"key"`
	Name       string        `json:"name"`
	State      form.State    `json:"state"`
	Review     review.Report `json:"review"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var link string

	cmd := &cobra.Command{
		Use:   "status <template-id>",
		Short: "Show a form's values and completion",
		Long: `Open a form, restoring its saved snapshot (or prefilling it from the
configured profile and an optional share link), and print its values,
completion percentage and missing required fields.

Examples:
  sopsync status 4
  sopsync status 4 --link 'https://example.org/form#share=eyJ0ZW1wbGF0ZUlkIjo0fQ'
  sopsync status 4 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args[0], link, cmd)
		},
	}

	cmd.Flags().StringVar(&link, "link", "", "share link to prefill from")
	return cmd
}

func runStatus(opts *RootOptions, idArg, link string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	id, err := parseTemplateID(idArg)
	if err != nil {
		return err
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
	if err := sess.openTemplate(ctx, formatter, id, link); err != nil {
		_ = sess.Close()
		return err
	}
	status := sess.status()
	if err := sess.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to save form", err)
	}
	return outputStatus(formatter, status)
}

// status captures the active form. The engine must have a template open.
func (s *session) status() FormStatus {
	tmpl, _ := s.engine.ActiveTemplate()
	report, _ := s.engine.Review()
	return FormStatus{
		TemplateID: tmpl.ID,
		Key:        s.key(tmpl.ID),
		Name:       tmpl.Name,
		State:      s.engine.Snapshot(),
		Review:     report,
	}
}

func outputStatus(f *OutputFormatter, st FormStatus) error {
	if f.IsJSON() {
		return f.Success(st)
	}
	w := f.Writer
	r := st.Review
	fmt.Fprintf(w, "%s (%s)\n", st.Name, st.Key)
	fmt.Fprintf(w, "Completion: %d/%d fields (%d%%)\n", r.Filled, r.Total, r.Percent)
	if r.Ready() {
		fmt.Fprintln(w, "✓ All required fields filled")
	} else {
		fmt.Fprintf(w, "Missing required: %s\n", strings.Join(r.MissingRequired, ", "))
	}
	for _, sec := range r.Sections {
		fmt.Fprintf(w, "\n[%s] %s %d/%d\n", sec.ID, sec.Title, sec.Filled, sec.Total)
	}
	if len(st.State) > 0 {
		fmt.Fprintln(w)
		for _, k := range st.State.SortedKeys() {
			fmt.Fprintf(w, "  %s = %s\n", k, st.State[k])
		}
	}
	return nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func parseTemplateID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid template id %q", arg))
	}
	return id, nil
}

// parseFieldValue converts a command-line value for field f. List fields
// take comma-separated items; an empty string clears the field.
func parseFieldValue(f schema.FieldDef, raw string) form.Value {
	if raw == "" {
		return form.Empty()
	}
	if !f.Type.IsList() {
		return form.Scalar(raw)
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return form.List(items...)
}
