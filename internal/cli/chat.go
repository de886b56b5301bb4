package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sopsync/internal/assistant"
	"github.com/roach88/sopsync/internal/config"
	"github.com/roach88/sopsync/internal/engine"
	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
)

// ChatOptions holds flags for the chat command.
type ChatOptions struct {
	*RootOptions
	Link         string
	SystemPrompt string
}

// ChatTurn is the outcome of one message. Rejected lists update keys
// dropped before the merge, as "field: reason".
type ChatTurn struct {
	Message  string           `json:"message"`
	Session  string           `json:"session"`
	Status   string           `json:"status"`
	Visible  string           `json:"visible"`
	Applied  []string         `json:"applied"`
	Skipped  []formstate.Skip `json:"skipped"`
	Rejected []string         `json:"rejected"`
	Error    string           `json:"error,omitempty"`
}

// ChatResult is the output of the chat command.
type ChatResult struct {
	Turns []ChatTurn `json:"turns"`
	Form  FormStatus `json:"form"`
}

// NewChatCommand creates the chat command.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chat <template-id> [message]",
		Short: "Ask the assistant to help fill a form",
		Long: `Send a message to the configured assistant endpoint with the form's
fields and current values. The reply streams to stdout; a structured update
block in the reply fills empty fields only.

Without a message argument, each non-empty line of stdin is sent as one
turn of the same conversation.

Examples:
  sopsync chat 4 "We keep poultry and get weekly feed deliveries"
  printf 'Fill the hazards\nNow the risk level\n' | sopsync chat 4`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var messages []string
			if len(args) == 2 {
				messages = []string{args[1]}
			} else {
				var err error
				if messages, err = readMessages(cmd.InOrStdin()); err != nil {
					return WrapExitError(ExitCommandError, "failed to read messages", err)
				}
			}
			return runChat(opts, args[0], messages, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Link, "link", "", "share link to prefill from when the form is new")
	cmd.Flags().StringVar(&opts.SystemPrompt, "system-prompt", "", "replace the generated system prompt")
	return cmd
}

func readMessages(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

// newTransport builds the assistant client from config.
func newTransport(cfg config.Assistant) assistant.Transport {
	var opts []assistant.HTTPOption
	if cfg.Timeout > 0 {
		opts = append(opts, assistant.WithTimeout(cfg.Timeout))
	}
	return assistant.NewHTTPClient(cfg.Endpoint, cfg.Model, cfg.APIKey, opts...)
}

// replyWatcher streams visible text to w and hands each finished reply to
// the command goroutine. It runs on the engine loop.
type replyWatcher struct {
	w       io.Writer
	stream  bool
	printed string
	done    chan ChatTurn
}

func (r *replyWatcher) observer() engine.Observer {
	return engine.ObserverFuncs{
		OnReplyStarted: func(s engine.StreamSession) {
			r.printed = ""
		},
		OnReplyUpdated: func(s engine.StreamSession) {
			if !r.stream {
				return
			}
			// Visible text is trimmed, so only print when it extends what
			// is already on screen.
			if strings.HasPrefix(s.VisibleText, r.printed) {
				fmt.Fprint(r.w, s.VisibleText[len(r.printed):])
				r.printed = s.VisibleText
			}
		},
		OnReplyCompleted: func(res engine.ReplyResult) {
			r.finish(res.Session)
			if res.ParseErr != nil {
				slog.Warn("assistant update ignored", "session", res.Session.ID, "error", res.ParseErr)
			}
			r.done <- ChatTurn{
				Session:  res.Session.ID,
				Status:   string(res.Session.Status),
				Visible:  res.Session.VisibleText,
				Applied:  nonNil(res.Merge.Applied),
				Skipped:  nonNil(res.Merge.Skipped),
				Rejected: rejectedKeys(res.Rejected),
			}
		},
		OnReplyFailed: func(s engine.StreamSession, err error) {
			r.finish(s)
			r.done <- ChatTurn{
				Session:  s.ID,
				Status:   string(s.Status),
				Visible:  s.VisibleText,
				Applied:  []string{},
				Skipped:  []formstate.Skip{},
				Rejected: []string{},
				Error:    err.Error(),
			}
		},
	}
}

func (r *replyWatcher) finish(s engine.StreamSession) {
	if !r.stream {
		return
	}
	if rest, ok := strings.CutPrefix(s.VisibleText, r.printed); ok {
		fmt.Fprint(r.w, rest)
	}
	fmt.Fprintln(r.w)
	r.printed = ""
}

func runChat(opts *ChatOptions, idArg string, messages []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	id, err := parseTemplateID(idArg)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return NewExitError(ExitCommandError, "no message to send")
	}
	cfg, err := opts.settings()
	if err != nil {
		return err
	}
	if cfg.Assistant.Endpoint == "" {
		return formatter.Fail(ExitCommandError, ErrCodeNoAssistant,
			"no assistant endpoint configured (set assistant.endpoint or SOPSYNC_ASSISTANT_URL)", nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := &replyWatcher{
		w:      formatter.Writer,
		stream: !formatter.IsJSON(),
		done:   make(chan ChatTurn, 1),
	}
	sess, err := openSession(ctx, cfg, newTransport(cfg.Assistant), watcher.observer())
	if err != nil {
		return err
	}
	if err := sess.openTemplate(ctx, formatter, id, opts.Link); err != nil {
		_ = sess.Close()
		return err
	}

	result := ChatResult{Turns: make([]ChatTurn, 0, len(messages))}
	failed := 0
	chatErr := func() error {
		for _, msg := range messages {
			if _, err := sess.engine.SubmitChat(ctx, engine.ChatRequest{Message: msg, SystemPrompt: opts.SystemPrompt}); err != nil {
				return WrapExitError(ExitFailure, "chat rejected", err)
			}
			select {
			case turn := <-watcher.done:
				turn.Message = msg
				result.Turns = append(result.Turns, turn)
				if turn.Error != "" {
					failed++
					if !formatter.IsJSON() {
						_ = formatter.Error(ErrCodeTransport, turn.Error, nil)
					}
				} else if !formatter.IsJSON() {
					if len(turn.Applied) > 0 {
						fmt.Fprintf(formatter.Writer, "Filled: %s\n", strings.Join(turn.Applied, ", "))
					}
					if len(turn.Rejected) > 0 {
						fmt.Fprintf(formatter.Writer, "Not applied: %s\n", strings.Join(turn.Rejected, "; "))
					}
				}
			case <-ctx.Done():
				return WrapExitError(ExitFailure, "chat interrupted", context.Cause(ctx))
			}
		}
		return nil
	}()

	result.Form = sess.status()
	if err := sess.Close(); err != nil && chatErr == nil {
		chatErr = WrapExitError(ExitCommandError, "failed to save form", err)
	}
	if chatErr != nil {
		return chatErr
	}

	if formatter.IsJSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "Completion: %d%%\n", result.Form.Review.Percent)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d replies failed", failed, len(messages)))
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func rejectedKeys(rs []form.Rejection) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String())
	}
	return out
}
