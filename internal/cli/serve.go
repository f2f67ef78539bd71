package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mailchimp/Firebase/internal/server"
)

// DefaultListenAddr is used when neither --addr nor LISTEN_ADDR is set.
const DefaultListenAddr = ":8080"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
	Config   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trigger gateway, engine and backfill worker",
		Long: `Start the HTTP trigger gateway together with the sync engine loop and
the backfill task worker.

Configuration is read from the optional YAML file given with --config and
from environment variables of the same names, which take precedence.

Example:
  mcsync serve --db ./mcsync.db --config ./extension.yaml
  mcsync serve --db /tmp/test.db --addr 127.0.0.1:9000 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $DATABASE_PATH)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $LISTEN_ADDR or "+DefaultListenAddr+")")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a YAML config file")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	rt, err := openRuntime(opts.Config, opts.Database, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := opts.Addr
	if addr == "" {
		addr = rt.raw.ListenAddr
	}
	if addr == "" {
		addr = DefaultListenAddr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(rt.engine, rt.orch, rt.store, rt.registry, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.engine.Run(ctx) })
	g.Go(func() error { return rt.worker.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx, addr) })

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("stopped gracefully")
	return nil
}
