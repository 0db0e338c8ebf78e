package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oursynth/capsule/internal/manifest"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	ID       string                     `json:"id,omitempty"`
	Errors   []manifest.ValidationError `json:"errors,omitempty"`
	Warnings []manifest.Warning         `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a capsule manifest",
		Long: `Validate a JSON or YAML manifest against the capsule schema without packing.

Convention checks (urn:oursynth:app:<slug>@<semver> ids) are reported as
warnings; --strict turns them into errors.`,
		Args:          exactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], strict, cmd)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat convention warnings as errors")

	return cmd
}

func runValidate(opts *RootOptions, path string, strict bool, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	m, err := manifest.Load(path)
	if err != nil {
		var verr *manifest.ValidationError
		if errors.As(err, &verr) {
			return outputValidationErrors(formatter, []manifest.ValidationError{*verr})
		}
		// Unreadable file is a command-level error (exit code 2)
		return fail(formatter, err)
	}
	formatter.VerboseLog("Validated %s (%s)", path, m.ID)

	warnings := manifest.Lint(m)
	if strict && len(warnings) > 0 {
		errs := make([]manifest.ValidationError, 0, len(warnings))
		for _, w := range warnings {
			errs = append(errs, manifest.ValidationError{
				Field:   w.Field,
				Message: w.Message,
				Code:    manifest.ErrCodeConvention,
			})
		}
		return outputValidationErrors(formatter, errs)
	}

	return outputValidateSuccess(formatter, m, warnings)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, m *manifest.Manifest, warnings []manifest.Warning) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, ID: m.ID, Warnings: warnings})
	}

	formatter.Textf("%s Manifest valid: %s", okMark(), m.ID)
	for _, w := range warnings {
		formatter.Textf("  %s %s: %s", warnMark(), w.Field, w.Message)
	}
	return nil
}

// outputValidationErrors outputs validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []manifest.ValidationError) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%s: validation failed with %d error(s)", errs[0].Code, len(errs)))
	}

	// Text format
	formatter.Textf("%s Validation failed", failMark())
	formatter.Textf("")

	for _, err := range errs {
		if err.Line > 0 {
			formatter.Textf("line %d", err.Line)
		}
		formatter.Textf("  %s: %s: %s", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("%s: validation failed with %d error(s)", errs[0].Code, len(errs)))
}
