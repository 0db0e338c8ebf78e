package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/manifest"
	"github.com/oursynth/capsule/internal/signing"
)

// HashOutput is the hash command result.
type HashOutput struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
	// Digest is the domain-separated hash of the canonical manifest; set
	// only with --manifest.
	Digest string `json:"digest,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	var asManifest bool

	cmd := &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the sha256 of a file",
		Long: `Print the lowercase hex sha256 of a file.

With --manifest the file is parsed as a capsule manifest and the digest of
its canonical encoding is printed as well. Two manifests with the same
content have the same digest regardless of key order or format.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(rootOpts, args[0], asManifest, cmd)
		},
	}

	cmd.Flags().BoolVar(&asManifest, "manifest", false, "also print the canonical manifest digest")

	return cmd
}

func runHash(opts *RootOptions, path string, asManifest bool, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(formatter, fmt.Errorf("read %s: %w", path, err))
	}
	out := HashOutput{Path: path, SHA256: signing.SHA256Hex(data), Bytes: len(data)}

	if asManifest {
		m, err := manifest.Parse(data, manifest.FormatForPath(path), path)
		if err != nil {
			return fail(formatter, err)
		}
		if out.Digest, err = m.Digest(); err != nil {
			return fail(formatter, err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	formatter.Textf("%s  %s", out.SHA256, out.Path)
	if out.Digest != "" {
		formatter.Textf("%s  %s (manifest digest)", out.Digest, out.Path)
	}
	return nil
}
