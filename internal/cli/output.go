package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/fatih/color"

	"github.com/oursynth/capsule/internal/archive"
	"github.com/oursynth/capsule/internal/capsule"
	"github.com/oursynth/capsule/internal/deploy"
	"github.com/oursynth/capsule/internal/manifest"
	"github.com/oursynth/capsule/internal/signing"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification or validation failure (bad signature, invalid manifest, etc.)
	ExitCommandError = 2 // Command error (bad arguments, missing files, deploy command failed, etc.)
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric          = "E001" // Generic/unknown error
	ErrCodeInvalidKey       = "E002" // Missing or malformed key
	ErrCodeNotFound         = "E005" // Path not found
	ErrCodeWriteFailed      = "E007" // File write error
	ErrCodeInvalidSignature = "E201" // Signature does not verify
	ErrCodeHashMismatch     = "E202" // Payload hash differs from header
	ErrCodeMalformed        = "E203" // Not header + separator + tar, or unsafe archive
	ErrCodeDeployFailed     = "E301" // Deploy command failed
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError (2) if the error is not an ExitError; those come
// from cobra itself (unknown command, bad flag).
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// classify maps a domain error to its output code and exit code.
func classify(err error) (string, int) {
	var verr *manifest.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Code, ExitFailure
	case errors.Is(err, capsule.ErrInvalidSignature):
		return ErrCodeInvalidSignature, ExitFailure
	case errors.Is(err, capsule.ErrHashMismatch):
		return ErrCodeHashMismatch, ExitFailure
	case errors.Is(err, capsule.ErrMalformed), errors.Is(err, archive.ErrUnsafePath):
		return ErrCodeMalformed, ExitFailure
	case errors.Is(err, deploy.ErrDeployFailed):
		return ErrCodeDeployFailed, ExitCommandError
	case errors.Is(err, capsule.ErrWrite):
		return ErrCodeWriteFailed, ExitCommandError
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound, ExitCommandError
	case errors.Is(err, signing.ErrInvalidKey):
		return ErrCodeInvalidKey, ExitCommandError
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}

// fail reports err through the formatter and returns the matching ExitError.
func fail(f *OutputFormatter, err error) error {
	code, exit := classify(err)
	var details interface{}
	var verr *manifest.ValidationError
	if errors.As(err, &verr) {
		details = verr
	}
	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E201", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "%s Error [%s]: %s\n", failMark(), code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Textf writes a line of human-readable output.
func (f *OutputFormatter) Textf(format string, args ...interface{}) {
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func okMark() string {
	return color.New(color.FgGreen).Sprint("✓")
}

func failMark() string {
	return color.New(color.FgRed).Sprint("✗")
}

func warnMark() string {
	return color.New(color.FgYellow).Sprint("!")
}
