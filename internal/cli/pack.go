package cli

import (
	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/capsule"
	"github.com/oursynth/capsule/internal/ledger"
	"github.com/oursynth/capsule/internal/manifest"
)

// PackOptions holds flags for the pack command.
type PackOptions struct {
	*RootOptions
	Manifest string
	Out      string
	Secret   string
}

// PackOutput is the pack command result.
type PackOutput struct {
	OK             bool   `json:"ok"`
	OutPath        string `json:"outPath"`
	Hash           string `json:"hash"`
	ID             string `json:"id"`
	ManifestDigest string `json:"manifestDigest"`
	Size           int    `json:"size"`
}

// NewPackCommand creates the pack command.
func NewPackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pack <dir>",
		Short: "Pack a directory and manifest into a signed capsule",
		Long: `Validate the manifest, archive <dir> as a gzip tarball, and write the signed
capsule to --out.

Nothing is archived or written if the manifest is invalid.

Example:
  capsule pack ./app --manifest capsule.json --out notes.capsule
  CAPSULE_SECRET=... capsule pack ./app --manifest capsule.yaml --out notes.capsule`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Manifest, "manifest", "m", "", "path to the manifest (JSON or YAML, required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output capsule path (required)")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "base64 secret key (default $CAPSULE_SECRET)")

	return cmd
}

func runPack(opts *PackOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.log(cmd)

	if err := requireFlag(cmd, "manifest", opts.Manifest); err != nil {
		return err
	}
	if err := requireFlag(cmd, "out", opts.Out); err != nil {
		return err
	}

	cfg, err := opts.config()
	if err != nil {
		return fail(formatter, err)
	}
	secret, err := resolveKey(opts.Secret, cfg.SecretKey, "secret", "CAPSULE_SECRET")
	if err != nil {
		return fail(formatter, err)
	}

	logger.Debug("packing capsule", "dir", dir, "manifest", opts.Manifest, "out", opts.Out)
	res, err := capsule.Pack(capsule.PackOptions{
		Dir:          dir,
		ManifestPath: opts.Manifest,
		OutPath:      opts.Out,
		SecretKey:    secret,
	})
	if err != nil {
		return fail(formatter, err)
	}

	for _, w := range manifest.Lint(res.Manifest) {
		logger.Warn("manifest convention", "field", w.Field, "message", w.Message)
	}

	opts.record(cmd, ledger.Event{
		Kind:      ledger.KindPacked,
		CapsuleID: res.Manifest.ID,
		Hash:      res.Hash,
		Path:      res.OutPath,
		Detail:    map[string]any{"size": res.Size, "manifestDigest": res.ManifestDigest},
	})

	out := PackOutput{
		OK:             true,
		OutPath:        res.OutPath,
		Hash:           res.Hash,
		ID:             res.Manifest.ID,
		ManifestDigest: res.ManifestDigest,
		Size:           res.Size,
	}
	if formatter.JSON() {
		return formatter.Success(out)
	}

	formatter.Textf("%s Packed %s", okMark(), out.ID)
	formatter.Textf("  out:  %s (%d bytes)", out.OutPath, out.Size)
	formatter.Textf("  hash: %s", out.Hash)
	return nil
}
