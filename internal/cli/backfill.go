package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/status"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Database string
	Config   string
	Event    string
}

// BackfillResult is the JSON payload of the backfill command.
type BackfillResult struct {
	Trigger   string `json:"trigger"`
	Delivered int    `json:"tasks_delivered"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message,omitempty"`
}

var validTriggers = []config.Trigger{config.TriggerInstall, config.TriggerUpdate, config.TriggerConfigure}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run a lifecycle backfill to completion",
		Long: `Fire a lifecycle event and process the resulting backfill tasks in the
foreground until the queue is empty, then print the final processing
state.

Exit codes:
  0 - Backfill completed (possibly with warnings)
  1 - Backfill failed
  2 - Command error (unreadable config, database not found, etc.)

Example:
  mcsync backfill --db ./mcsync.db --config ./extension.yaml --event INSTALL`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $DATABASE_PATH)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&opts.Event, "event", string(config.TriggerInstall), "lifecycle event (INSTALL|UPDATE|CONFIGURE)")

	return cmd
}

func runBackfill(cmd *cobra.Command, opts *BackfillOptions) error {
	trigger := config.Trigger(strings.ToUpper(opts.Event))
	if !slices.Contains(validTriggers, trigger) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown event %q", opts.Event))
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	rt, err := openRuntime(opts.Config, opts.Database, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := rt.orch.Start(ctx, trigger); err != nil {
		_ = formatter.Error(ErrCodeBackfill, err.Error(), nil)
		return WrapExitError(ExitFailure, "backfill failed to start", err)
	}
	delivered, err := rt.worker.Drain(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeBackfill, err.Error(), nil)
		return WrapExitError(ExitFailure, "backfill interrupted", err)
	}

	result := BackfillResult{Trigger: string(trigger), Delivered: delivered}
	last, ok, err := rt.store.LatestProcessingState(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read processing state", err)
	}
	if ok {
		result.State = last.State
		result.Message = last.Message
	}

	if err := formatter.Success(fmt.Sprintf("%s: %s", result.State, result.Message), result); err != nil {
		return err
	}
	if result.State == string(status.Failed) {
		return NewExitError(ExitFailure, result.Message)
	}
	return nil
}
