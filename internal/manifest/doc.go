// Package manifest parses and validates capsule manifests.
//
// Validation is driven by an embedded CUE schema (schema.cue). Input is
// unified with #Manifest, checked for concreteness, and then decoded with
// the schema's defaults applied:
//   - services, seeds, attestations default to empty lists
//   - app.env defaults to an empty map
//   - rights defaults to {license: "proprietary", resaleAllowed: false, attribution: true}
//
// The schema is closed: unknown fields are rejected. The first violation is
// reported as a *ValidationError naming the dotted field path.
//
// A parsed manifest is already in canonical form, so encoding it with
// Canonical and decoding the result yields an equal value.
package manifest
