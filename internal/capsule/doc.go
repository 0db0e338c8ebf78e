// Package capsule packs a directory and its manifest into a signed
// artifact and opens such artifacts again.
//
// # File format
//
// A capsule file is a NaCl signed message (64-byte signature followed by the
// payload). The payload is:
//
//	<header JSON> "\n--\n" <gzip tar>
//
// The header is {"hash": <sha256 hex of the tar>, "manifest": {...}} in
// canonical JSON. Canonical JSON escapes every newline, so the first
// separator occurrence always ends the header.
//
// # Verification
//
// Opening a capsule checks the signature first and then recomputes the
// payload hash against the header. Either failure is terminal; there is no
// degraded path that returns unverified bytes.
package capsule
