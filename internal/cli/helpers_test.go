package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oursynth/capsule/internal/signing"
	"github.com/oursynth/capsule/internal/testutil"
)

// isolateEnv clears every CAPSULE_* variable for the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CAPSULE_SECRET", "CAPSULE_PUBLIC", "CAPSULE_LEDGER",
		"CAPSULE_DEPLOY_COMMAND", "CAPSULE_DEPLOY_TIMEOUT", "CAPSULE_HTTP_ADDR",
	} {
		t.Setenv(key, "")
	}
}

type cliResult struct {
	Stdout string
	Stderr string
	Err    error
}

func (r cliResult) ExitCode() int {
	return GetExitCode(r.Err)
}

// execute runs the root command with args.
func execute(t *testing.T, args ...string) cliResult {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) cliResult {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return cliResult{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// decodeData decodes a JSON CLIResponse and its data payload into data.
func decodeData(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

type packed struct {
	kp   signing.Keypair
	dir  string
	path string
}

// packCapsule packs the default fixture app through the CLI.
func packCapsule(t *testing.T, extra ...string) packed {
	t.Helper()
	kp := testutil.Keypair(t)
	dir := testutil.WriteApp(t, nil)
	out := filepath.Join(t.TempDir(), "notes.capsule")

	args := append([]string{"pack", dir,
		"--manifest", testutil.WriteManifest(t, nil),
		"--out", out,
		"--secret", kp.SecretKey,
	}, extra...)
	res := execute(t, args...)
	require.NoError(t, res.Err, res.Stdout+res.Stderr)
	return packed{kp: kp, dir: dir, path: out}
}
