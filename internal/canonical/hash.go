package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed digests.
// The version suffix leaves room for an algorithm change.
const (
	DomainManifest = "capsule/manifest/v1"
)

// Hash computes SHA-256 with domain separation and returns it as hex.
// Format: SHA256(domain + 0x00 + data)
// The null byte keeps the domain/data boundary unambiguous.
func Hash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest canonicalizes v and hashes it under domain.
func Digest(domain string, v any) (string, error) {
	data, err := MarshalValue(v)
	if err != nil {
		return "", err
	}
	return Hash(domain, data), nil
}
