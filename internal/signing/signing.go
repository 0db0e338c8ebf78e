// Package signing wraps NaCl public-key signatures for capsule artifacts.
//
// Signed blobs use the NaCl "combined" layout: a 64-byte Ed25519 signature
// followed by the payload. Keys travel as standard base64 strings.
package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/sign"
)

// Key and signature sizes.
const (
	PublicKeySize = 32
	SecretKeySize = 64
	SignatureSize = sign.Overhead
)

// ErrInvalidKey is returned for keys that are not valid base64 or have
// the wrong length.
var ErrInvalidKey = errors.New("invalid key")

// Keypair is a base64-encoded public/secret key pair.
type Keypair struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

// GenerateKeypair creates a fresh keypair from r, or crypto/rand when r is nil.
func GenerateKeypair(r io.Reader) (Keypair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, sec, err := sign.GenerateKey(r)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{
		PublicKey: base64.StdEncoding.EncodeToString(pub[:]),
		SecretKey: base64.StdEncoding.EncodeToString(sec[:]),
	}, nil
}

// ParsePublicKey decodes a base64 public key and checks its size.
func ParsePublicKey(encoded string) (*[PublicKeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode public key: %v", ErrInvalidKey, err)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, PublicKeySize, len(raw))
	}
	var key [PublicKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// ParseSecretKey decodes a base64 secret key and checks its size.
func ParseSecretKey(encoded string) (*[SecretKeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: decode secret key: %v", ErrInvalidKey, err)
	}
	if len(raw) != SecretKeySize {
		return nil, fmt.Errorf("%w: secret key must be %d bytes, got %d", ErrInvalidKey, SecretKeySize, len(raw))
	}
	var key [SecretKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// PublicKeyOf returns the public half embedded in a secret key
// (its last 32 bytes).
func PublicKeyOf(secret *[SecretKeySize]byte) *[PublicKeySize]byte {
	var pub [PublicKeySize]byte
	copy(pub[:], secret[SecretKeySize-PublicKeySize:])
	return &pub
}

// Sign signs the exact bytes of payload. The result is the signature
// followed by payload. Ed25519 signatures are deterministic.
func Sign(payload []byte, secret *[SecretKeySize]byte) []byte {
	return sign.Sign(make([]byte, 0, SignatureSize+len(payload)), payload, secret)
}

// Verify checks signed against publicKey. It returns the payload and true
// only for a valid signature; otherwise nil and false. Callers branch on the
// boolean instead of an error.
func Verify(signed []byte, publicKey *[PublicKeySize]byte) ([]byte, bool) {
	if publicKey == nil || len(signed) < SignatureSize {
		return nil, false
	}
	payload, ok := sign.Open(nil, signed, publicKey)
	if !ok {
		return nil, false
	}
	return payload, true
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
