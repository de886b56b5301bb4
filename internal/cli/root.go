package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text"
	ConfigPath   string
	TemplatesDir string // overrides templates.dir from config
	Namespace    string // overrides namespace from config

	// Config is loaded by PersistentPreRunE, or lazily by settings when a
	// subcommand is executed on its own.
	Config config.Config
	loaded bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sopsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sopsync",
		Short: "sopsync - structured SOP form filling",
		Long: `Fill standard operating procedure compliance forms from templates,
with profile prefill, share links and an optional streaming assistant
whose structured updates only ever fill empty fields.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			_, err := opts.settings()
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.TemplatesDir, "templates", "", "templates directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Namespace, "namespace", "", "persistence namespace (overrides config)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTemplatesCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))
	cmd.AddCommand(NewShareCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// settings reads the config file and environment once, applies flag
// overrides and installs the process logger.
func (o *RootOptions) settings() (config.Config, error) {
	if o.loaded {
		return o.Config, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.TemplatesDir != "" {
		cfg.Templates.Dir = o.TemplatesDir
	}
	if o.Namespace != "" {
		cfg.Namespace = o.Namespace
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.Config = cfg
	o.loaded = true

	logLevel := slog.LevelWarn
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
	return cfg, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
