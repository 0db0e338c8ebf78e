package capsule

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oursynth/capsule/internal/canonical"
	"github.com/oursynth/capsule/internal/manifest"
	"github.com/oursynth/capsule/internal/signing"
	"github.com/oursynth/capsule/internal/testutil"
)

func packFixture(t *testing.T, kp signing.Keypair) (*PackResult, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "notes.capsule")
	res, err := Pack(PackOptions{
		Dir:          testutil.WriteApp(t, nil),
		ManifestPath: testutil.WriteManifest(t, nil),
		OutPath:      out,
		SecretKey:    kp.SecretKey,
	})
	require.NoError(t, err)
	return res, out
}

func TestPackUnpackRoundTrip(t *testing.T) {
	kp := testutil.Keypair(t)
	manifestPath := testutil.WriteManifest(t, nil)
	want, err := manifest.Load(manifestPath)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "notes.capsule")
	res, err := Pack(PackOptions{
		Dir:          testutil.WriteApp(t, nil),
		ManifestPath: manifestPath,
		OutPath:      out,
		SecretKey:    kp.SecretKey,
	})
	require.NoError(t, err)
	assert.Equal(t, out, res.OutPath)
	assert.FileExists(t, out)

	c, err := Unpack(out, kp.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, *want, c.Header.Manifest)
	assert.Equal(t, signing.SHA256Hex(c.Blob), c.Header.Hash)
	assert.Equal(t, res.Hash, c.Header.Hash)
	assert.Equal(t, res.BlobBytes, len(c.Blob))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(res.Size), info.Size())
}

func TestPackPreservesLargeIntegers(t *testing.T) {
	kp := testutil.Keypair(t)
	m := testutil.ManifestMap()
	m["services"] = []any{
		map[string]any{"name": "db", "type": "postgres", "config": map[string]any{
			"shard": json.Number("9007199254740993"),
		}},
	}

	out := filepath.Join(t.TempDir(), "notes.capsule")
	_, err := Pack(PackOptions{
		Dir:          testutil.WriteApp(t, nil),
		ManifestPath: testutil.WriteManifest(t, m),
		OutPath:      out,
		SecretKey:    kp.SecretKey,
	})
	require.NoError(t, err)

	c, err := Unpack(out, kp.PublicKey)
	require.NoError(t, err)
	require.Len(t, c.Header.Manifest.Services, 1)
	assert.Equal(t, json.Number("9007199254740993"), c.Header.Manifest.Services[0].Config["shard"])
}

func TestPackIsReproducible(t *testing.T) {
	kp := testutil.Keypair(t)
	dir := testutil.WriteApp(t, nil)
	manifestPath := testutil.WriteManifest(t, nil)

	outs := make([][]byte, 2)
	for i := range outs {
		out := filepath.Join(t.TempDir(), "c.capsule")
		_, err := Pack(PackOptions{Dir: dir, ManifestPath: manifestPath, OutPath: out, SecretKey: kp.SecretKey})
		require.NoError(t, err)
		outs[i], err = os.ReadFile(out)
		require.NoError(t, err)
	}
	assert.Equal(t, outs[0], outs[1])
}

func TestPackHeaderLayout(t *testing.T) {
	kp := testutil.Keypair(t)
	_, out := packFixture(t, kp)

	signed, err := os.ReadFile(out)
	require.NoError(t, err)
	pub, err := signing.ParsePublicKey(kp.PublicKey)
	require.NoError(t, err)
	payload, ok := signing.Verify(signed, pub)
	require.True(t, ok)

	headerJSON, _, found := bytes.Cut(payload, []byte(Separator))
	require.True(t, found)
	assert.True(t, bytes.HasPrefix(headerJSON, []byte(`{"hash":"`)), "canonical key order puts hash first")
	assert.NotContains(t, string(headerJSON), "\n")
}

func TestExtractRestoresTree(t *testing.T) {
	kp := testutil.Keypair(t)
	_, out := packFixture(t, kp)

	c, err := Unpack(out, kp.PublicKey)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, c.Extract(dest))
	for name, content := range testutil.AppFiles {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, content, string(got))
	}

	entries, err := c.Entries()
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestUnpackDetectsTampering(t *testing.T) {
	kp := testutil.Keypair(t)
	_, out := packFixture(t, kp)

	original, err := os.ReadFile(out)
	require.NoError(t, err)
	pub, err := signing.ParsePublicKey(kp.PublicKey)
	require.NoError(t, err)

	for i := range original {
		tampered := append([]byte(nil), original...)
		tampered[i] ^= 0x80

		c, err := Open(tampered, pub)
		require.Error(t, err, "flip at byte %d accepted", i)
		assert.Nil(t, c)
		assert.True(t, errors.Is(err, ErrInvalidSignature), "byte %d: %v", i, err)
	}
}

func TestUnpackWrongKey(t *testing.T) {
	kp := testutil.Keypair(t)
	_, out := packFixture(t, kp)

	other := testutil.Keypair(t)
	_, err := Unpack(out, other.PublicKey)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestUnpackBadInputs(t *testing.T) {
	kp := testutil.Keypair(t)

	_, err := Unpack(filepath.Join(t.TempDir(), "missing.capsule"), kp.PublicKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Unpack("irrelevant", "not-a-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key")
}

func TestOpenHashMismatch(t *testing.T) {
	kp := testutil.Keypair(t)
	sec, err := signing.ParseSecretKey(kp.SecretKey)
	require.NoError(t, err)
	pub := signing.PublicKeyOf(sec)

	header, err := canonical.MarshalValue(Header{Hash: signing.SHA256Hex([]byte("other"))})
	require.NoError(t, err)
	payload := append(append(header, Separator...), []byte("blob")...)

	_, err = Open(signing.Sign(payload, sec), pub)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHashMismatch))
}

func TestOpenMalformed(t *testing.T) {
	kp := testutil.Keypair(t)
	sec, err := signing.ParseSecretKey(kp.SecretKey)
	require.NoError(t, err)
	pub := signing.PublicKeyOf(sec)

	_, err = Open(signing.Sign([]byte(`{"hash":"x"}`), sec), pub)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = Open(signing.Sign([]byte("not json"+Separator+"blob"), sec), pub)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestPackRejectsInvalidManifestBeforeWriting(t *testing.T) {
	kp := testutil.Keypair(t)
	m := testutil.ManifestMap()
	delete(m["build"].(map[string]any), "steps")

	outDir := t.TempDir()
	out := filepath.Join(outDir, "bad.capsule")
	_, err := Pack(PackOptions{
		// A missing directory proves the archive step never ran.
		Dir:          filepath.Join(t.TempDir(), "does-not-exist"),
		ManifestPath: testutil.WriteManifest(t, m),
		OutPath:      out,
		SecretKey:    kp.SecretKey,
	})
	require.Error(t, err)

	var verr *manifest.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Field, "steps")

	assert.NoFileExists(t, out)
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}

func TestPackRejectsBadSecret(t *testing.T) {
	out := filepath.Join(t.TempDir(), "c.capsule")
	_, err := Pack(PackOptions{
		Dir:          testutil.WriteApp(t, nil),
		ManifestPath: testutil.WriteManifest(t, nil),
		OutPath:      out,
		SecretKey:    "",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret key")
	assert.ErrorIs(t, err, signing.ErrInvalidKey)
	assert.NoFileExists(t, out)
}

func TestPackMissingDir(t *testing.T) {
	kp := testutil.Keypair(t)
	out := filepath.Join(t.TempDir(), "c.capsule")

	_, err := Pack(PackOptions{
		Dir:          filepath.Join(t.TempDir(), "nope"),
		ManifestPath: testutil.WriteManifest(t, nil),
		OutPath:      out,
		SecretKey:    kp.SecretKey,
	})
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestPackWriteFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Pack(PackOptions{
		Dir:          testutil.WriteApp(t, nil),
		ManifestPath: testutil.WriteManifest(t, nil),
		OutPath:      filepath.Join(blocker, "out.capsule"),
		SecretKey:    testutil.Keypair(t).SecretKey,
	})
	assert.ErrorIs(t, err, ErrWrite)
}
