package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	"gopkg.in/yaml.v3"

	"github.com/oursynth/capsule/internal/canonical"
)

//go:embed schema.cue
var schemaSource string

// Validation error codes (E100-E109).
const (
	ErrCodeSyntax     = "E100" // input is not well-formed JSON/YAML
	ErrCodeSchema     = "E101" // input violates #Manifest
	ErrCodeConvention = "E102" // id/version convention, reported by strict validation
)

// Format is the input encoding of a manifest.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks the format from a file extension. Anything other
// than .yaml/.yml is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ValidationError reports the first problem found in a manifest.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, FormatForPath(path), filepath.Base(path))
}

// Parse validates data against #Manifest and returns the manifest with
// defaults applied. name is used in error positions only.
func Parse(data []byte, format Format, name string) (*Manifest, error) {
	if name == "" {
		name = "manifest.json"
	}
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, &ValidationError{Field: "manifest", Message: err.Error(), Code: ErrCodeSyntax}
		}
		data = converted
	}

	expr, err := cuejson.Extract(name, data)
	if err != nil {
		return nil, syntaxError(err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))

	value := def.Unify(ctx.BuildExpr(expr))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err)
	}

	resolved, err := value.MarshalJSON()
	if err != nil {
		return nil, schemaError(err)
	}

	var m Manifest
	if err := canonical.Unmarshal(resolved, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	out, err := normalize(&m)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := canonical.Unmarshal(resolved, &generic); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	out.rewritten = unnormalizedFields(generic, "")
	return out, nil
}

// normalize round-trips m through the canonical encoding so the returned
// value is exactly what a packed header will decode to.
func normalize(m *Manifest) (*Manifest, error) {
	data, err := m.Canonical()
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	var out Manifest
	if err := canonical.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode canonical manifest: %w", err)
	}
	return &out, nil
}

// yamlToJSON decodes YAML with yaml.v3 and re-encodes it as JSON so both
// formats share one validation path.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert YAML: %w", err)
	}
	return out, nil
}

func syntaxError(err error) *ValidationError {
	verr := &ValidationError{Field: "manifest", Message: err.Error(), Code: ErrCodeSyntax}
	if errs := errors.Errors(err); len(errs) > 0 {
		verr.Message = formatMsg(errs[0])
		if pos := errs[0].Position(); pos.IsValid() {
			verr.Line = pos.Line()
		}
	}
	return verr
}

// schemaError converts the first CUE error into a ValidationError.
func schemaError(err error) *ValidationError {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Field: "manifest", Message: err.Error(), Code: ErrCodeSchema}
	}

	first := errs[0]
	verr := &ValidationError{
		Field:   fieldPath(first.Path()),
		Message: formatMsg(first),
		Code:    ErrCodeSchema,
	}
	for _, pos := range errors.Positions(first) {
		// Prefer a position in the input over one in the schema.
		if pos.IsValid() && pos.Filename() != "schema.cue" {
			verr.Line = pos.Line()
			break
		}
	}
	return verr
}

// fieldPath joins a CUE error path, dropping the definition label.
func fieldPath(path []string) string {
	if len(path) > 0 && path[0] == "#Manifest" {
		path = path[1:]
	}
	if len(path) == 0 {
		return "manifest"
	}
	return strings.Join(path, ".")
}

func formatMsg(err errors.Error) string {
	format, args := err.Msg()
	return fmt.Sprintf(format, args...)
}
