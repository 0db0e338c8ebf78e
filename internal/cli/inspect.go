package cli

import (
	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/archive"
	"github.com/oursynth/capsule/internal/capsule"
)

// InspectOutput is the inspect command result.
type InspectOutput struct {
	Header  capsule.Header  `json:"header"`
	Entries []archive.Entry `json:"entries"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var pub string

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show a verified capsule's manifest and payload listing",
		Long: `Verify the capsule, then print its manifest summary and the files in the
payload without extracting them.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, pub, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&pub, "pub", "", "base64 public key (default $CAPSULE_PUBLIC)")

	return cmd
}

func runInspect(opts *RootOptions, pub, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := openCapsule(opts, cmd, file, pub)
	if err != nil {
		return fail(formatter, err)
	}
	entries, err := c.Entries()
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.JSON() {
		return formatter.Success(InspectOutput{Header: c.Header, Entries: entries})
	}

	m := c.Header.Manifest
	formatter.Textf("%s %s", okMark(), m.ID)
	formatter.Textf("  name:      %s %s", m.Name, m.Version)
	formatter.Textf("  created:   %s by %s (%s)", m.CreatedAt, m.CreatedBy.Name, m.CreatedBy.KeyID)
	formatter.Textf("  framework: %s", m.App.Framework)
	formatter.Textf("  license:   %s", m.Rights.License)
	for _, s := range m.Services {
		formatter.Textf("  service:   %s (%s)", s.Name, s.Type)
	}
	formatter.Textf("  hash:      %s", c.Header.Hash)
	formatter.Textf("")
	for _, e := range entries {
		switch e.Type {
		case archive.TypeSymlink:
			formatter.Textf("  %04o %8s  %s -> %s", e.Mode, "-", e.Name, e.Linkname)
		case archive.TypeDir:
			formatter.Textf("  %04o %8s  %s", e.Mode, "-", e.Name)
		default:
			formatter.Textf("  %04o %8d  %s", e.Mode, e.Size, e.Name)
		}
	}
	return nil
}
