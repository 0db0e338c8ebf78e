package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/ledger"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	CapsuleID string
	Kind      string
	Hash      string
	Limit     int
}

// LogOutput is the log command result.
type LogOutput struct {
	Events []ledger.Event `json:"events"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show capsule lifecycle events from the ledger",
		Long: fmt.Sprintf(`Show recorded pack, unpack, verification and deploy events in the order
they happened. Requires --ledger or CAPSULE_LEDGER.

Kinds: %v

Example:
  capsule log --ledger capsule.db --capsule urn:oursynth:app:notes@1.0.0
  capsule log --ledger capsule.db --kind deploy_failed --limit 10`, ledger.Kinds),
		Args:          exactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CapsuleID, "capsule", "", "only events for this capsule id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only events of this kind")
	cmd.Flags().StringVar(&opts.Hash, "hash", "", "only events for this payload hash")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "only the most recent N events (0 = all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Kind != "" && !ledger.Kind(opts.Kind).Valid() {
		return fail(formatter, fmt.Errorf("unknown kind %q: must be one of %v", opts.Kind, ledger.Kinds))
	}

	path, err := opts.ledgerPath()
	if err != nil {
		return fail(formatter, err)
	}
	if path == "" {
		return fail(formatter, fmt.Errorf("no ledger configured: set --ledger or CAPSULE_LEDGER"))
	}

	// Don't create an empty ledger just to read it
	if _, err := os.Stat(path); err != nil {
		return fail(formatter, fmt.Errorf("ledger: %w", err))
	}

	l, err := ledger.Open(path)
	if err != nil {
		return fail(formatter, err)
	}
	defer l.Close()

	events, err := l.List(commandContext(cmd), ledger.Filter{
		CapsuleID: opts.CapsuleID,
		Kind:      ledger.Kind(opts.Kind),
		Hash:      opts.Hash,
		Limit:     opts.Limit,
	})
	if err != nil {
		return fail(formatter, err)
	}

	if formatter.JSON() {
		return formatter.Success(LogOutput{Events: events})
	}

	if len(events) == 0 {
		formatter.Textf("No events")
		return nil
	}
	for _, ev := range events {
		formatter.Textf("%4d  %s  %-13s  %s", ev.Seq, ev.RecordedAt.Format(time.RFC3339), ev.Kind, describeEvent(ev))
	}
	return nil
}

func describeEvent(ev ledger.Event) string {
	subject := ev.CapsuleID
	if subject == "" {
		subject = ev.Path
	}
	if ev.Env != "" {
		subject += " -> " + ev.Env
	}
	if len(ev.Hash) >= 12 {
		subject += " (" + ev.Hash[:12] + ")"
	}
	if msg, ok := ev.Detail["error"].(string); ok && msg != "" {
		subject += ": " + msg
	}
	return subject
}
