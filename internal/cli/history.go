package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/engine"
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
)

// HistoryEntry is one recorded field write.
type HistoryEntry struct {
	Seq    int64      `json:"seq"`
	Source string     `json:"source"`
	Field  string     `json:"field"`
	Value  form.Value `json:"value"`
}

// HistoryResult is the output of the history command.
type HistoryResult struct {
	Key     string         `json:"key"`
	Changes []HistoryEntry `json:"changes"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "history <template-id>",
		Short: "Show the change history of a form",
		Long: `Print every recorded field write for a form in the order it was
applied, with its source (user, prefill or assistant).

Examples:
  sopsync history 4
  sopsync history 4 --source assistant --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], source, cmd)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "only show writes from this source (user|prefill|assistant)")
	return cmd
}

func runHistory(opts *RootOptions, idArg, source string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	id, err := parseTemplateID(idArg)
	if err != nil {
		return err
	}
	switch formstate.Source(source) {
	case "", formstate.SourceUser, formstate.SourcePrefill, formstate.SourceAssistant:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid source %q", source))
	}
	cfg, err := opts.settings()
	if err != nil {
		return err
	}

	b, err := openBackend(cfg.Persistence)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, err.Error(), nil)
	}
	defer b.Close()

	key := engine.StoreKey(cfg.Namespace, id)
	changes, err := b.ReadChanges(cmd.Context(), key)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	result := HistoryResult{Key: key, Changes: make([]HistoryEntry, 0, len(changes))}
	for _, c := range changes {
		if source != "" && string(c.Source) != source {
			continue
		}
		result.Changes = append(result.Changes, HistoryEntry{
			Seq:    c.Seq,
			Source: string(c.Source),
			Field:  c.FieldID,
			Value:  c.Value,
		})
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	if len(result.Changes) == 0 {
		fmt.Fprintf(formatter.Writer, "No changes recorded for %s.\n", key)
		return nil
	}
	for _, e := range result.Changes {
		fmt.Fprintf(formatter.Writer, "%6d  %-9s %-22s %s\n", e.Seq, e.Source, e.Field, e.Value)
	}
	return nil
}
