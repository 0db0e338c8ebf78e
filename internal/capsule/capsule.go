package capsule

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oursynth/capsule/internal/archive"
	"github.com/oursynth/capsule/internal/canonical"
	"github.com/oursynth/capsule/internal/manifest"
	"github.com/oursynth/capsule/internal/signing"
)

// Separator splits the header from the tarball inside the signed payload.
const Separator = "\n--\n"

var (
	// ErrInvalidSignature means the signature does not verify under the
	// supplied public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrHashMismatch means the payload does not match the hash recorded
	// in the header.
	ErrHashMismatch = errors.New("payload hash mismatch")

	// ErrMalformed means the signed payload is not header + separator + tar.
	ErrMalformed = errors.New("malformed capsule")

	// ErrWrite means the capsule file could not be written.
	ErrWrite = errors.New("write capsule")
)

// Header is the signed metadata block at the front of the payload.
type Header struct {
	Manifest manifest.Manifest `json:"manifest"`
	Hash     string            `json:"hash"`
}

// Capsule is a verified, opened capsule.
type Capsule struct {
	Header Header
	Blob   []byte // gzip tar payload
}

// PackOptions configures Pack.
type PackOptions struct {
	Dir          string
	ManifestPath string
	OutPath      string
	SecretKey    string // base64
}

// PackResult describes a written capsule.
type PackResult struct {
	OutPath        string             `json:"outPath"`
	Hash           string             `json:"hash"`
	ManifestDigest string             `json:"manifestDigest"`
	Size           int                `json:"size"`
	BlobBytes      int                `json:"blobBytes"`
	Manifest       *manifest.Manifest `json:"-"`
}

// Pack validates the manifest, archives Dir, and writes the signed capsule
// to OutPath. The manifest and key are checked before anything is read
// from Dir or written to OutPath.
func Pack(opts PackOptions) (*PackResult, error) {
	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	secret, err := signing.ParseSecretKey(opts.SecretKey)
	if err != nil {
		return nil, err
	}

	blob, err := archive.Tar(opts.Dir)
	if err != nil {
		return nil, err
	}

	signed, header, err := Seal(m, blob, secret)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(opts.OutPath, signed); err != nil {
		return nil, err
	}

	digest, err := m.Digest()
	if err != nil {
		return nil, err
	}
	return &PackResult{
		OutPath:        opts.OutPath,
		Hash:           header.Hash,
		ManifestDigest: digest,
		Size:           len(signed),
		BlobBytes:      len(blob),
		Manifest:       m,
	}, nil
}

// Seal builds the header for m and blob and signs header+separator+blob.
func Seal(m *manifest.Manifest, blob []byte, secret *[signing.SecretKeySize]byte) ([]byte, *Header, error) {
	header := &Header{Manifest: *m, Hash: signing.SHA256Hex(blob)}
	headerJSON, err := canonical.MarshalValue(header)
	if err != nil {
		return nil, nil, fmt.Errorf("encode header: %w", err)
	}

	payload := make([]byte, 0, len(headerJSON)+len(Separator)+len(blob))
	payload = append(payload, headerJSON...)
	payload = append(payload, Separator...)
	payload = append(payload, blob...)

	return signing.Sign(payload, secret), header, nil
}

// Unpack reads the capsule at path and opens it with publicKey (base64).
func Unpack(path, publicKey string) (*Capsule, error) {
	pub, err := signing.ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	signed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capsule: %w", err)
	}
	return Open(signed, pub)
}

// Open verifies signed and splits it into header and payload.
func Open(signed []byte, pub *[signing.PublicKeySize]byte) (*Capsule, error) {
	payload, ok := signing.Verify(signed, pub)
	if !ok {
		return nil, ErrInvalidSignature
	}

	headerJSON, blob, found := bytes.Cut(payload, []byte(Separator))
	if !found {
		return nil, fmt.Errorf("%w: separator not found", ErrMalformed)
	}

	var header Header
	if err := canonical.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrMalformed, err)
	}

	if got := signing.SHA256Hex(blob); got != header.Hash {
		return nil, fmt.Errorf("%w: header %s, payload %s", ErrHashMismatch, header.Hash, got)
	}

	return &Capsule{Header: header, Blob: blob}, nil
}

// Extract writes the payload tree into dest.
func (c *Capsule) Extract(dest string) error {
	return archive.Untar(c.Blob, dest)
}

// Entries lists the payload without extracting it.
func (c *Capsule) Entries() ([]archive.Entry, error) {
	return archive.List(c.Blob)
}

// writeAtomic writes data to a temp file next to path and renames it into
// place, so a failed write never leaves a partial capsule behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}
