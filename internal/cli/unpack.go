package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/capsule"
	"github.com/oursynth/capsule/internal/ledger"
)

// UnpackOptions holds flags for the unpack command.
type UnpackOptions struct {
	*RootOptions
	Pub string
	Out string
}

// UnpackOutput is the unpack command result.
type UnpackOutput struct {
	OK          bool           `json:"ok"`
	Header      capsule.Header `json:"header"`
	BlobBytes   int            `json:"blobBytes"`
	ExtractedTo string         `json:"extractedTo,omitempty"`
}

// NewUnpackCommand creates the unpack command.
func NewUnpackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UnpackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "unpack <file>",
		Short: "Verify a capsule and print its header",
		Long: `Verify the capsule signature with the public key, check the payload hash,
and print the header. With --out the payload tree is extracted too.

Example:
  capsule unpack notes.capsule --pub <base64>
  capsule unpack notes.capsule --pub <base64> --out ./restored`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnpack(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Pub, "pub", "", "base64 public key (default $CAPSULE_PUBLIC)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "extract the payload into this directory")

	return cmd
}

func runUnpack(opts *UnpackOptions, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := openCapsule(opts.RootOptions, cmd, file, opts.Pub)
	if err != nil {
		return fail(formatter, err)
	}

	out := UnpackOutput{OK: true, Header: c.Header, BlobBytes: len(c.Blob)}
	if opts.Out != "" {
		if err := c.Extract(opts.Out); err != nil {
			return fail(formatter, err)
		}
		out.ExtractedTo = opts.Out
	}

	opts.record(cmd, ledger.Event{
		Kind:      ledger.KindUnpacked,
		CapsuleID: c.Header.Manifest.ID,
		Hash:      c.Header.Hash,
		Path:      file,
		Detail:    map[string]any{"extractedTo": opts.Out},
	})

	if formatter.JSON() {
		return formatter.Success(out)
	}

	formatter.Textf("%s Signature valid", okMark())
	formatter.Textf("  id:      %s", c.Header.Manifest.ID)
	formatter.Textf("  name:    %s %s", c.Header.Manifest.Name, c.Header.Manifest.Version)
	formatter.Textf("  hash:    %s", c.Header.Hash)
	formatter.Textf("  payload: %d bytes", out.BlobBytes)
	if out.ExtractedTo != "" {
		formatter.Textf("  extracted to %s", out.ExtractedTo)
	}
	return nil
}

// openCapsule resolves the public key and opens file. Verification
// failures are recorded in the ledger.
func openCapsule(opts *RootOptions, cmd *cobra.Command, file, pubFlag string) (*capsule.Capsule, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	pub, err := resolveKey(pubFlag, cfg.PublicKey, "pub", "CAPSULE_PUBLIC")
	if err != nil {
		return nil, err
	}

	opts.log(cmd).Debug("opening capsule", "path", file)
	c, err := capsule.Unpack(file, pub)
	if err != nil {
		if isVerificationError(err) {
			opts.record(cmd, ledger.Event{
				Kind:   ledger.KindVerifyFailed,
				Path:   file,
				Detail: map[string]any{"error": err.Error()},
			})
		}
		return nil, err
	}
	return c, nil
}

func isVerificationError(err error) bool {
	return errors.Is(err, capsule.ErrInvalidSignature) ||
		errors.Is(err, capsule.ErrHashMismatch) ||
		errors.Is(err, capsule.ErrMalformed)
}
