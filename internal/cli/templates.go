package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/schema"
)

// TemplateSummary is one row of the templates listing.
type TemplateSummary struct {
	ID       int      `json:"id"`
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Sections int      `json:"sections"`
	Fields   int      `json:"fields"`
	Required []string `json:"required"`
}

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates [template-id]",
		Short: "List templates or show one template's fields",
		Long: `List every template in the templates directory, or print the
sections and fields of a single template.

Examples:
  sopsync templates
  sopsync templates 4
  sopsync templates --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runTemplates(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	cfg, err := opts.settings()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg.Templates.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load templates", err)
	}

	if len(args) == 1 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid template id %q", args[0]))
		}
		tmpl, ok := registry.Get(id)
		if !ok {
			return formatter.Fail(ExitCommandError, ErrCodeUnknownTemplate, fmt.Sprintf("unknown template %d", id), nil)
		}
		if formatter.IsJSON() {
			return formatter.Success(tmpl)
		}
		printTemplate(formatter, tmpl)
		return nil
	}

	summaries := make([]TemplateSummary, 0, registry.Len())
	for _, t := range registry.All() {
		required := t.RequiredFields()
		if required == nil {
			required = []string{}
		}
		summaries = append(summaries, TemplateSummary{
			ID:       t.ID,
			Key:      t.Key,
			Name:     t.Name,
			Sections: len(t.Sections),
			Fields:   t.FieldCount(),
			Required: required,
		})
	}
	if formatter.IsJSON() {
		return formatter.Success(summaries)
	}
	for _, s := range summaries {
		fmt.Fprintf(formatter.Writer, "%3d  %-28s %s (%d fields, %d required)\n", s.ID, s.Key, s.Name, s.Fields, len(s.Required))
	}
	return nil
}

func printTemplate(f *OutputFormatter, t *schema.Template) {
	w := f.Writer
	fmt.Fprintf(w, "%d %s: %s\n", t.ID, t.Key, t.Name)
	for _, s := range t.Sections {
		fmt.Fprintf(w, "\n[%s] %s\n", s.ID, s.Title)
		for _, fd := range s.Fields {
			marker := " "
			if fd.Required {
				marker = "*"
			}
			line := fmt.Sprintf("  %s %-22s %-18s %s", marker, fd.ID, fd.Type, fd.Label)
			if len(fd.Options) > 0 {
				line += " [" + strings.Join(fd.Options, ", ") + "]"
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(t.LogTable.Columns) > 0 {
		fmt.Fprintf(w, "\nlog: %s\n", strings.Join(t.LogTable.Columns, " | "))
	}
}
