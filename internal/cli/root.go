package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Ledger  string // ledger database path; empty falls back to CAPSULE_LEDGER

	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the capsule CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "capsule",
		Short: "capsule - signed application capsules",
		Long: `Package an application directory and its manifest into a single signed,
content-hashed capsule, and verify, unpack or deploy it again.

Keys are base64 NaCl signing keys. The secret key defaults to CAPSULE_SECRET
and the public key to CAPSULE_PUBLIC.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				msg := fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				cmd.PrintErrln("Error:", msg)
				return NewExitError(ExitCommandError, msg)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Ledger, "ledger", "", "path to the event ledger database (default $CAPSULE_LEDGER)")

	// Add subcommands
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewPackCommand(opts))
	cmd.AddCommand(NewUnpackCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))

	return cmd
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
