package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/signing"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing keypair",
		Long: `Generate a fresh NaCl signing keypair and print it as JSON.

The secret key signs capsules (pack --secret or CAPSULE_SECRET); the public
key verifies them (--pub or CAPSULE_PUBLIC). Keys are not stored anywhere.`,
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(rootOpts, cmd)
		},
	}
	return cmd
}

func runKeygen(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	kp, err := signing.GenerateKeypair(nil)
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.JSON() {
		return formatter.Success(kp)
	}

	// The keypair is the payload; text mode prints it as indented JSON too.
	data, err := json.MarshalIndent(kp, "", "  ")
	if err != nil {
		return fail(formatter, err)
	}
	formatter.Textf("%s", data)
	return nil
}
