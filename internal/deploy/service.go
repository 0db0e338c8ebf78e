package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/oursynth/capsule/internal/capsule"
	"github.com/oursynth/capsule/internal/ledger"
	"github.com/oursynth/capsule/internal/signing"
)

// Envs lists the accepted deployment targets.
var Envs = []string{"preview", "staging", "production"}

var (
	// ErrBadRequest marks requests rejected before verification.
	ErrBadRequest = errors.New("bad deploy request")

	// ErrRejected marks capsules that could not be read or verified.
	ErrRejected = errors.New("capsule rejected")

	// ErrDeployFailed marks runner failures after successful verification.
	ErrDeployFailed = errors.New("deploy failed")
)

// Request asks for one capsule file to be deployed.
type Request struct {
	FilePath string `json:"filePath"`
	Env      string `json:"env"`
}

// Outcome describes a successful deploy.
type Outcome struct {
	Env       string `json:"env"`
	CapsuleID string `json:"capsuleId"`
	Hash      string `json:"hash"`
	Result    Result `json:"result"`
}

// Recorder receives lifecycle events. *ledger.Ledger satisfies it.
type Recorder interface {
	Append(ctx context.Context, ev ledger.Event) (ledger.Event, error)
}

// Service verifies capsules and passes them to a Runner.
type Service struct {
	runner   Runner
	pub      *[signing.PublicKeySize]byte
	recorder Recorder
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecorder records deploy outcomes and verification failures.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger (default slog.Default()).
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service that verifies with publicKey (base64).
func NewService(runner Runner, publicKey string, opts ...ServiceOption) (*Service, error) {
	if runner == nil {
		return nil, errors.New("deploy runner is required")
	}
	pub, err := signing.ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	s := &Service{runner: runner, pub: pub, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ValidEnv reports whether env is an accepted deployment target.
func ValidEnv(env string) bool {
	return slices.Contains(Envs, env)
}

// Deploy verifies req.FilePath and runs the deployment for req.Env.
//
// Errors wrap ErrBadRequest, ErrRejected or ErrDeployFailed. Rejections
// also wrap the underlying capsule sentinel (capsule.ErrInvalidSignature,
// capsule.ErrHashMismatch, capsule.ErrMalformed).
func (s *Service) Deploy(ctx context.Context, req Request) (*Outcome, error) {
	if req.FilePath == "" {
		return nil, fmt.Errorf("%w: filePath is required", ErrBadRequest)
	}
	if req.Env == "" {
		return nil, fmt.Errorf("%w: env is required", ErrBadRequest)
	}
	if !ValidEnv(req.Env) {
		return nil, fmt.Errorf("%w: env must be one of %v, got %q", ErrBadRequest, Envs, req.Env)
	}

	logger := s.logger.With("path", req.FilePath, "env", req.Env)

	c, err := s.open(req.FilePath)
	if err != nil {
		logger.Warn("capsule rejected", "error", err)
		s.record(ctx, ledger.Event{
			Kind:   ledger.KindVerifyFailed,
			Path:   req.FilePath,
			Env:    req.Env,
			Detail: map[string]any{"error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	id := c.Header.Manifest.ID
	logger = logger.With("capsule", id, "hash", c.Header.Hash)
	logger.Debug("capsule verified")

	res, err := s.runner.Run(ctx, req.FilePath, req.Env)
	if err != nil {
		logger.Error("deploy command failed", "exit_code", res.ExitCode, "error", err)
		s.record(ctx, ledger.Event{
			Kind:      ledger.KindDeployFailed,
			CapsuleID: id,
			Hash:      c.Header.Hash,
			Path:      req.FilePath,
			Env:       req.Env,
			Detail:    map[string]any{"exitCode": res.ExitCode, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", ErrDeployFailed, err)
	}

	logger.Info("capsule deployed", "duration", res.Duration)
	s.record(ctx, ledger.Event{
		Kind:      ledger.KindDeployed,
		CapsuleID: id,
		Hash:      c.Header.Hash,
		Path:      req.FilePath,
		Env:       req.Env,
		Detail:    map[string]any{"exitCode": res.ExitCode},
	})

	return &Outcome{Env: req.Env, CapsuleID: id, Hash: c.Header.Hash, Result: res}, nil
}

func (s *Service) open(path string) (*capsule.Capsule, error) {
	signed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capsule: %w", err)
	}
	return capsule.Open(signed, s.pub)
}

// record appends ev if a recorder is configured. Ledger failures are
// logged and never change the deploy result.
func (s *Service) record(ctx context.Context, ev ledger.Event) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Append(ctx, ev); err != nil {
		s.logger.Warn("ledger append failed", "kind", ev.Kind, "error", err)
	}
}
