package manifest

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
	"golang.org/x/text/unicode/norm"
)

// IDPrefix is the conventional prefix of a manifest id.
const IDPrefix = "urn:oursynth:app:"

var idPattern = regexp.MustCompile(`^urn:oursynth:app:([a-z0-9]+(?:-[a-z0-9]+)*)@(.+)$`)

// isSemver reports whether s is a full MAJOR.MINOR.PATCH version, with
// optional prerelease and build metadata. The vMAJOR and vMAJOR.MINOR
// shorthands semver.IsValid accepts are rejected.
func isSemver(s string) bool {
	v := "v" + s
	if !semver.IsValid(v) {
		return false
	}
	return semver.Canonical(v) == strings.TrimSuffix(v, semver.Build(v))
}

// Warning is a convention the manifest does not follow. Warnings never
// block packing.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Lint checks conventions the schema leaves unenforced: the id must read
// urn:oursynth:app:<slug>@<semver>, and its version suffix must match
// the version field. Fields Parse rewrote to NFC are reported as well.
func Lint(m *Manifest) []Warning {
	var warnings []Warning

	match := idPattern.FindStringSubmatch(m.ID)
	if match == nil {
		warnings = append(warnings, Warning{
			Field:   "id",
			Message: fmt.Sprintf("%q does not match %s<slug>@<semver>", m.ID, IDPrefix),
		})
	} else {
		if !isSemver(match[2]) {
			warnings = append(warnings, Warning{
				Field:   "id",
				Message: fmt.Sprintf("version suffix %q is not semver", match[2]),
			})
		}
		if match[2] != m.Version {
			warnings = append(warnings, Warning{
				Field:   "id",
				Message: fmt.Sprintf("version suffix %q differs from version %q", match[2], m.Version),
			})
		}
	}

	if !isSemver(m.Version) {
		warnings = append(warnings, Warning{
			Field:   "version",
			Message: fmt.Sprintf("%q is not semver", m.Version),
		})
	}

	for _, field := range m.rewritten {
		warnings = append(warnings, Warning{
			Field:   field,
			Message: "text is not NFC normalized and is packed in its NFC form",
		})
	}

	return warnings
}

// unnormalizedFields returns the dotted paths of keys and string values in
// v that are not already in NFC, in sorted order.
func unnormalizedFields(v any, prefix string) []string {
	var fields []string
	switch val := v.(type) {
	case string:
		if !norm.NFC.IsNormalString(val) {
			fields = append(fields, prefix)
		}
	case []any:
		for i, elem := range val {
			fields = append(fields, unnormalizedFields(elem, joinField(prefix, strconv.Itoa(i)))...)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			field := joinField(prefix, k)
			if !norm.NFC.IsNormalString(k) {
				fields = append(fields, field)
			}
			fields = append(fields, unnormalizedFields(val[k], field)...)
		}
	}
	return fields
}

func joinField(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// ExpectedID builds the conventional id for a slug and version.
func ExpectedID(slug, version string) string {
	return IDPrefix + slug + "@" + version
}
