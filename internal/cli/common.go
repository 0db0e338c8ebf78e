package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/config"
	"github.com/oursynth/capsule/internal/ledger"
	"github.com/oursynth/capsule/internal/signing"
)

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// config loads the environment configuration once per invocation.
func (o *RootOptions) config() (config.Config, error) {
	if o.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return config.Config{}, err
		}
		o.cfg = &cfg
	}
	return *o.cfg, nil
}

// log returns a text logger on cmd's stderr, at debug level with --verbose.
func (o *RootOptions) log(cmd *cobra.Command) *slog.Logger {
	if o.logger == nil {
		level := slog.LevelInfo
		if o.Verbose {
			level = slog.LevelDebug
		}
		o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: level,
		}))
	}
	return o.logger
}

// ledgerPath resolves --ledger, then CAPSULE_LEDGER.
func (o *RootOptions) ledgerPath() (string, error) {
	if o.Ledger != "" {
		return o.Ledger, nil
	}
	cfg, err := o.config()
	if err != nil {
		return "", err
	}
	return cfg.LedgerPath, nil
}

// openLedger opens the configured ledger, or returns nil when none is set.
func (o *RootOptions) openLedger() (*ledger.Ledger, error) {
	path, err := o.ledgerPath()
	if err != nil || path == "" {
		return nil, err
	}
	return ledger.Open(path)
}

// record appends ev to the configured ledger. Ledger problems are logged
// and never fail the command.
func (o *RootOptions) record(cmd *cobra.Command, ev ledger.Event) {
	l, err := o.openLedger()
	if err != nil {
		o.log(cmd).Warn("ledger unavailable", "error", err)
		return
	}
	if l == nil {
		return
	}
	defer l.Close()

	if _, err := l.Append(commandContext(cmd), ev); err != nil {
		o.log(cmd).Warn("ledger append failed", "kind", ev.Kind, "error", err)
		return
	}
	o.log(cmd).Debug("ledger event recorded", "kind", ev.Kind, "capsule", ev.CapsuleID)
}

// resolveKey returns the flag value, falling back to the environment.
func resolveKey(flagValue, envValue, flagName, envName string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if envValue != "" {
		return envValue, nil
	}
	return "", fmt.Errorf("%w: --%s or %s is required", signing.ErrInvalidKey, flagName, envName)
}

// exactArgs is cobra.ExactArgs that prints usage and exits with
// ExitCommandError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			cmd.PrintErrln("Error:", err)
			cmd.PrintErrln(cmd.UsageString())
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}

// requireFlag prints usage and fails when a mandatory flag is empty.
func requireFlag(cmd *cobra.Command, name, value string) error {
	if value != "" {
		return nil
	}
	msg := fmt.Sprintf("required flag --%s not set", name)
	cmd.PrintErrln("Error:", msg)
	cmd.PrintErrln(cmd.UsageString())
	return NewExitError(ExitCommandError, msg)
}

// commandContext returns cmd's context or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
