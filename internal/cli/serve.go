package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/deploy"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deploy endpoint over HTTP",
		Long: `Serve POST /api/deploy/capsule with body {"filePath", "env"}.

Each request verifies the capsule at filePath with the public key before
running the deploy command. Responses are {"ok": true, "env"} on success,
400 for bad requests or capsules that do not verify, and 500 when the deploy
command fails.

Example:
  capsule serve --addr :8787 --pub <base64>`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, addr, cmd)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $CAPSULE_HTTP_ADDR or :8787)")
	addDeployFlags(cmd, opts)

	return cmd
}

func runServe(opts *DeployOptions, addr string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.log(cmd)

	cfg, err := opts.config()
	if err != nil {
		return fail(formatter, err)
	}
	if addr == "" {
		addr = cfg.HTTPAddr
	}

	svc, closeFn, err := opts.service(cmd)
	if err != nil {
		return fail(formatter, err)
	}
	defer closeFn()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if err := deploy.ListenAndServe(ctx, addr, deploy.NewHandler(svc, logger)); err != nil {
		return fail(formatter, err)
	}
	return nil
}
