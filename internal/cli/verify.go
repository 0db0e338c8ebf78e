package cli

import (
	"github.com/spf13/cobra"
)

// VerifyOutput is the verify command result.
type VerifyOutput struct {
	OK   bool   `json:"ok"`
	Hash string `json:"hash"`
	ID   string `json:"id"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var pub string

	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check a capsule's signature and payload hash",
		Long: `Check the capsule signature and payload hash without extracting anything.

Exits 1 when the capsule does not verify.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, pub, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&pub, "pub", "", "base64 public key (default $CAPSULE_PUBLIC)")

	return cmd
}

func runVerify(opts *RootOptions, pub, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := openCapsule(opts, cmd, file, pub)
	if err != nil {
		return fail(formatter, err)
	}

	out := VerifyOutput{OK: true, Hash: c.Header.Hash, ID: c.Header.Manifest.ID}
	if formatter.JSON() {
		return formatter.Success(out)
	}
	formatter.Textf("%s %s verified (%s)", okMark(), out.ID, out.Hash)
	return nil
}
