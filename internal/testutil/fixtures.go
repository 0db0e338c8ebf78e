package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oursynth/capsule/internal/signing"
)

// AppFiles is the default application tree written by WriteApp.
var AppFiles = map[string]string{
	"package.json":      `{"name":"notes","private":true}`,
	"src/index.ts":      "export const hello = 'world'\n",
	"src/lib/db.ts":     "export const url = process.env.DB_URL\n",
	"seeds/starter.sql": "insert into notes(title) values ('hi');\n",
}

// WriteApp writes files (AppFiles when nil) into a fresh temp directory.
func WriteApp(t *testing.T, files map[string]string) string {
	t.Helper()
	if files == nil {
		files = AppFiles
	}
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

// ManifestMap returns a valid manifest as a generic map so tests can
// mutate it before writing.
func ManifestMap() map[string]any {
	return map[string]any{
		"id":        "urn:oursynth:app:notes@1.0.0",
		"name":      "Notes",
		"version":   "1.0.0",
		"createdAt": "2026-02-03T04:05:06Z",
		"createdBy": map[string]any{"name": "Ada", "keyId": "k1"},
		"app":       map[string]any{"framework": "nextjs", "node": "20"},
		"services": []any{
			map[string]any{"name": "db", "type": "postgres", "config": map[string]any{"pool": 5}},
		},
		"build": map[string]any{"steps": []any{"pnpm install", "pnpm build"}, "outDir": ".next"},
		"seeds": []any{
			map[string]any{"name": "starter", "type": "sql", "path": "seeds/starter.sql"},
		},
	}
}

// WriteManifest writes m (ManifestMap when nil) as JSON to a temp file
// and returns its path.
func WriteManifest(t *testing.T, m map[string]any) string {
	t.Helper()
	if m == nil {
		m = ManifestMap()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "capsule.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// Keypair generates a fresh signing keypair.
func Keypair(t *testing.T) signing.Keypair {
	t.Helper()
	kp, err := signing.GenerateKeypair(nil)
	require.NoError(t, err)
	return kp
}
