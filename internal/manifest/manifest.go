package manifest

import (
	"github.com/oursynth/capsule/internal/canonical"
)

// Manifest describes a capsule: what it is, who made it, how to build and
// run it, and what rights travel with it.
type Manifest struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	CreatedAt    string        `json:"createdAt"`
	CreatedBy    Creator       `json:"createdBy"`
	App          App           `json:"app"`
	Services     []Service     `json:"services"`
	Build        Build         `json:"build"`
	Seeds        []Seed        `json:"seeds"`
	Attestations []Attestation `json:"attestations"`
	Rights       Rights        `json:"rights"`

	// rewritten lists the fields whose text Parse changed to NFC.
	rewritten []string
}

// Creator identifies the author and the key they sign with.
type Creator struct {
	Name  string `json:"name"`
	KeyID string `json:"keyId"`
}

// App describes the runtime the capsule targets.
type App struct {
	Framework string            `json:"framework"`
	Node      string            `json:"node,omitempty"`
	Env       map[string]string `json:"env"`
}

// Service is an external service the app expects to be provisioned.
type Service struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// Build lists the build commands and the output directory.
type Build struct {
	Steps  []string `json:"steps"`
	OutDir string   `json:"outDir"`
}

// Seed is initial data shipped with the capsule.
type Seed struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// Attestation is a recorded claim about the capsule contents.
type Attestation struct {
	Type   string         `json:"type"`
	SHA256 string         `json:"sha256"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Rights are the licensing terms attached to the capsule.
type Rights struct {
	License       string `json:"license"`
	ResaleAllowed bool   `json:"resaleAllowed"`
	Attribution   bool   `json:"attribution"`
}

// Canonical returns the RFC 8785 encoding of m.
func (m *Manifest) Canonical() ([]byte, error) {
	return canonical.MarshalValue(m)
}

// Digest returns the domain-separated hash of the canonical encoding.
// Two manifests with the same digest are byte-identical once packed.
func (m *Manifest) Digest() (string, error) {
	return canonical.Digest(canonical.DomainManifest, m)
}
