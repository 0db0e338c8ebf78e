// Package canonical provides the deterministic JSON encoding and
// domain-separated hashing used for capsule headers.
//
// The encoding follows RFC 8785 (JSON Canonicalization Scheme):
//   - object keys sorted by UTF-16 code units
//   - no insignificant whitespace, no HTML escaping
//   - strings NFC normalized
//   - numbers in shortest round-trip form
//
// Canonical output never contains a raw newline byte, which is what allows
// a capsule header to be terminated by a newline-based separator.
package canonical
