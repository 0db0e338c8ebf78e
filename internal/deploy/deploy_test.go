package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oursynth/capsule/internal/capsule"
	"github.com/oursynth/capsule/internal/ledger"
	"github.com/oursynth/capsule/internal/signing"
	"github.com/oursynth/capsule/internal/testutil"
)

type call struct {
	FilePath string
	Env      string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRunner) Run(_ context.Context, filePath, env string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{filePath, env})
	if f.err != nil {
		return Result{ExitCode: 1, Output: "boom"}, f.err
	}
	return Result{Output: "ok"}, nil
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call{}, f.calls...)
}

type fixture struct {
	kp   signing.Keypair
	path string
	hash string
}

func packFixture(t *testing.T) fixture {
	t.Helper()
	kp := testutil.Keypair(t)
	out := filepath.Join(t.TempDir(), "notes.capsule")
	res, err := capsule.Pack(capsule.PackOptions{
		Dir:          testutil.WriteApp(t, nil),
		ManifestPath: testutil.WriteManifest(t, nil),
		OutPath:      out,
		SecretKey:    kp.SecretKey,
	})
	require.NoError(t, err)
	return fixture{kp: kp, path: out, hash: res.Hash}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"),
		ledger.WithIDGenerator(testutil.NewSequentialIDs("evt")),
		ledger.WithClock(testutil.NewStepClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, testutil.Keypair(t).PublicKey)
	assert.Error(t, err)

	_, err = NewService(&fakeRunner{}, "not-a-key")
	assert.Error(t, err)
}

func TestDeploySuccess(t *testing.T) {
	fx := packFixture(t)
	runner := &fakeRunner{}
	led := openLedger(t)
	svc, err := NewService(runner, fx.kp.PublicKey, WithRecorder(led), WithLogger(quietLogger()))
	require.NoError(t, err)

	out, err := svc.Deploy(context.Background(), Request{FilePath: fx.path, Env: "preview"})
	require.NoError(t, err)

	assert.Equal(t, "preview", out.Env)
	assert.Equal(t, "urn:oursynth:app:notes@1.0.0", out.CapsuleID)
	assert.Equal(t, fx.hash, out.Hash)
	assert.Equal(t, []call{{fx.path, "preview"}}, runner.Calls())

	events, err := led.List(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.KindDeployed, events[0].Kind)
	assert.Equal(t, fx.hash, events[0].Hash)
	assert.Equal(t, "preview", events[0].Env)
}

func TestDeployRejectsBadRequests(t *testing.T) {
	fx := packFixture(t)
	runner := &fakeRunner{}
	svc, err := NewService(runner, fx.kp.PublicKey, WithLogger(quietLogger()))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing path", Request{Env: "preview"}},
		{"missing env", Request{FilePath: fx.path}},
		{"unknown env", Request{FilePath: fx.path, Env: "qa"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deploy(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}
	assert.Empty(t, runner.Calls())
}

func TestDeployNeverRunsUnverifiedCapsule(t *testing.T) {
	fx := packFixture(t)

	tampered := filepath.Join(t.TempDir(), "tampered.capsule")
	data, err := os.ReadFile(fx.path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(tampered, data, 0o644))

	runner := &fakeRunner{}
	led := openLedger(t)
	svc, err := NewService(runner, fx.kp.PublicKey, WithRecorder(led), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = svc.Deploy(context.Background(), Request{FilePath: tampered, Env: "staging"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, capsule.ErrInvalidSignature)
	assert.Empty(t, runner.Calls())

	events, err := led.List(context.Background(), ledger.Filter{Kind: ledger.KindVerifyFailed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, tampered, events[0].Path)
}

func TestDeployWrongKey(t *testing.T) {
	fx := packFixture(t)
	runner := &fakeRunner{}
	svc, err := NewService(runner, testutil.Keypair(t).PublicKey, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = svc.Deploy(context.Background(), Request{FilePath: fx.path, Env: "production"})
	assert.ErrorIs(t, err, capsule.ErrInvalidSignature)
	assert.Empty(t, runner.Calls())
}

func TestDeployMissingFile(t *testing.T) {
	runner := &fakeRunner{}
	svc, err := NewService(runner, testutil.Keypair(t).PublicKey, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = svc.Deploy(context.Background(), Request{FilePath: filepath.Join(t.TempDir(), "nope"), Env: "preview"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDeployRunnerFailure(t *testing.T) {
	fx := packFixture(t)
	runner := &fakeRunner{err: errors.New("exit status 1")}
	led := openLedger(t)
	svc, err := NewService(runner, fx.kp.PublicKey, WithRecorder(led), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = svc.Deploy(context.Background(), Request{FilePath: fx.path, Env: "preview"})
	assert.ErrorIs(t, err, ErrDeployFailed)
	assert.Len(t, runner.Calls(), 1)

	events, err := led.List(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.KindDeployFailed, events[0].Kind)
	assert.Equal(t, float64(1), events[0].Detail["exitCode"])
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, ledger.Event) (ledger.Event, error) {
	return ledger.Event{}, errors.New("disk full")
}

func TestDeployIgnoresRecorderFailure(t *testing.T) {
	fx := packFixture(t)
	var logs bytes.Buffer
	svc, err := NewService(&fakeRunner{}, fx.kp.PublicKey,
		WithRecorder(failingRecorder{}),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	_, err = svc.Deploy(context.Background(), Request{FilePath: fx.path, Env: "preview"})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "ledger append failed")
}

func TestValidEnv(t *testing.T) {
	for _, env := range Envs {
		assert.True(t, ValidEnv(env), env)
	}
	assert.False(t, ValidEnv("Preview"))
	assert.False(t, ValidEnv(""))
}
