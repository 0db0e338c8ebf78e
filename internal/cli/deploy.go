package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/deploy"
)

// DeployOptions holds flags for the deploy and serve commands.
type DeployOptions struct {
	*RootOptions
	Env     string
	Pub     string
	Command string
	Timeout time.Duration

	// Runner allows overriding the deploy runner (for testing).
	// If nil, an ExecRunner for the configured command is used.
	Runner deploy.Runner
}

// DeployOutput is the deploy command result.
type DeployOutput struct {
	OK        bool   `json:"ok"`
	Env       string `json:"env"`
	CapsuleID string `json:"capsuleId"`
	Hash      string `json:"hash"`
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy <file>",
		Short: "Verify a capsule and run the deploy command",
		Long: fmt.Sprintf(`Verify the capsule with the public key, then run the deploy command with
the capsule path and environment appended. A capsule that does not verify
never reaches the deploy command.

Environments: %s
The command defaults to CAPSULE_DEPLOY_COMMAND ("pnpm deploy:capsule").

Example:
  capsule deploy notes.capsule --env preview --pub <base64>`, strings.Join(deploy.Envs, ", ")),
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Env, "env", "", "target environment (required)")
	addDeployFlags(cmd, opts)

	return cmd
}

// addDeployFlags registers the flags shared by deploy and serve.
func addDeployFlags(cmd *cobra.Command, opts *DeployOptions) {
	cmd.Flags().StringVar(&opts.Pub, "pub", "", "base64 public key (default $CAPSULE_PUBLIC)")
	cmd.Flags().StringVar(&opts.Command, "command", "", "deploy command (default $CAPSULE_DEPLOY_COMMAND)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "deploy command timeout (default $CAPSULE_DEPLOY_TIMEOUT, 0 = none)")
}

func runDeploy(opts *DeployOptions, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if err := requireFlag(cmd, "env", opts.Env); err != nil {
		return err
	}

	svc, closeFn, err := opts.service(cmd)
	if err != nil {
		return fail(formatter, err)
	}
	defer closeFn()

	out, err := svc.Deploy(commandContext(cmd), deploy.Request{FilePath: file, Env: opts.Env})
	if err != nil {
		return fail(formatter, err)
	}

	result := DeployOutput{OK: true, Env: out.Env, CapsuleID: out.CapsuleID, Hash: out.Hash}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	formatter.Textf("%s Deployed %s to %s", okMark(), result.CapsuleID, result.Env)
	if opts.Verbose && out.Result.Output != "" {
		formatter.VerboseLog("%s", strings.TrimRight(out.Result.Output, "\n"))
	}
	return nil
}

// service builds a deploy.Service from flags and environment. The returned
// func releases the ledger, if one was opened.
func (o *DeployOptions) service(cmd *cobra.Command) (*deploy.Service, func(), error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	pub, err := resolveKey(o.Pub, cfg.PublicKey, "pub", "CAPSULE_PUBLIC")
	if err != nil {
		return nil, nil, err
	}

	runner := o.Runner
	if runner == nil {
		command := cfg.DeployCommand
		if o.Command != "" {
			command = strings.Fields(o.Command)
		}
		timeout := cfg.DeployTimeout
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
		runner = deploy.NewExecRunner(command, timeout)
	}

	logger := o.log(cmd)
	svcOpts := []deploy.ServiceOption{deploy.WithLogger(logger)}

	closeFn := func() {}
	l, err := o.openLedger()
	if err != nil {
		logger.Warn("ledger unavailable", "error", err)
	} else if l != nil {
		svcOpts = append(svcOpts, deploy.WithRecorder(l))
		closeFn = func() {
			if err := l.Close(); err != nil {
				logger.Error("error closing ledger", "error", err)
			}
		}
	}

	svc, err := deploy.NewService(runner, pub, svcOpts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
