package deploy

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommand is the deployment command used when none is configured.
var DefaultCommand = []string{"pnpm", "deploy:capsule"}

// Result describes one runner invocation.
type Result struct {
	ExitCode int           `json:"exitCode"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Runner deploys a verified capsule file to env.
type Runner interface {
	Run(ctx context.Context, filePath, env string) (Result, error)
}

// ExecRunner runs Command with the capsule path and env appended as the
// final two arguments.
type ExecRunner struct {
	Command []string
	// Timeout bounds each run. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Dir is the working directory; empty uses the current one.
	Dir string
}

// NewExecRunner creates a runner for command (DefaultCommand when empty).
func NewExecRunner(command []string, timeout time.Duration) *ExecRunner {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &ExecRunner{Command: command, Timeout: timeout}
}

// Run executes the command and captures combined stdout and stderr.
// A non-zero exit is returned as an error alongside the captured Result.
func (r *ExecRunner) Run(ctx context.Context, filePath, env string) (Result, error) {
	if len(r.Command) == 0 {
		return Result{ExitCode: -1}, errors.New("deploy command is empty")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Command[1:]...), filePath, env)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = r.Dir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	res := Result{Output: string(output), Duration: time.Since(start)}

	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return res, fmt.Errorf("%s failed: %w\n%s",
			strings.Join(r.Command, " "), err, strings.TrimSpace(res.Output))
	}
	return res, nil
}
