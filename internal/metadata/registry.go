// Package metadata validates the versioned metadata documents attached to
// recordings. Each Registry dispatches on an explicit version table; a
// version missing from the table is an error, never a fallback.
package metadata

import (
	"bytes"
	"cmp"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// SchemaValidationError reports the fields of a document that failed
// validation. Fields are dotted paths such as "title" or "run.id".
type SchemaValidationError struct {
	Version int
	Fields  []string
	Details []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("invalid v%d metadata: %s", e.Version, strings.Join(e.Fields, ", "))
}

// UnsupportedVersionError is returned for a version missing from the
// registry's table.
type UnsupportedVersionError struct {
	Version   int
	Supported []int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported metadata version %d (supported: %v)", e.Version, e.Supported)
}

// Document is a validated, fully defaulted metadata document.
type Document struct {
	Version int
	Data    map[string]any
}

// Decode converts the document into v via a JSON round trip.
func (d *Document) Decode(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

// versionSpec ties a version number to its embedded schema and defaults.
type versionSpec struct {
	version int
	file    string
	rules   []rule
}

type compiled struct {
	spec   versionSpec
	schema *jsonschema.Schema
}

// Registry validates documents against a fixed table of versions.
type Registry struct {
	name     string
	versions map[int]*compiled
	getenv   func(string) string
	newID    func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithEnv replaces os.Getenv as the source of environment defaults.
func WithEnv(getenv func(string) string) Option {
	return func(r *Registry) { r.getenv = getenv }
}

// WithEnvMap is WithEnv backed by a map.
func WithEnvMap(env map[string]string) Option {
	return WithEnv(func(k string) string { return env[k] })
}

// WithIDGenerator replaces the random run id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

func newRegistry(name string, specs []versionSpec, opts ...Option) *Registry {
	r := &Registry{
		name:     name,
		versions: make(map[int]*compiled, len(specs)),
		getenv:   os.Getenv,
		newID:    func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(r)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, s := range specs {
		data, err := schemaFS.ReadFile("schemas/" + s.file)
		if err != nil {
			panic(fmt.Sprintf("metadata: missing embedded schema %s: %v", s.file, err))
		}
		url := "mem://replaykit/" + s.file
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("metadata: add schema %s: %v", s.file, err))
		}
		r.versions[s.version] = &compiled{spec: s, schema: c.MustCompile(url)}
	}
	return r
}

// Versions returns the supported versions in ascending order.
func (r *Registry) Versions() []int {
	return slices.Sorted(maps.Keys(r.versions))
}

// Validate defaults and validates doc as the given version. The input is
// not modified; the returned document shares nothing with it.
func (r *Registry) Validate(doc map[string]any, version int) (*Document, error) {
	c, ok := r.versions[version]
	if !ok {
		return nil, &UnsupportedVersionError{Version: version, Supported: r.Versions()}
	}

	data, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	for _, rule := range c.spec.rules {
		rule.apply(data, r)
	}

	if err := c.schema.Validate(data); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, fmt.Errorf("validate %s metadata: %w", r.name, err)
		}
		fields, details := collectFields(ve)
		return nil, &SchemaValidationError{Version: version, Fields: fields, Details: details}
	}
	return &Document{Version: version, Data: data}, nil
}

// ValidateDeclared validates doc against the version it declares.
func (r *Registry) ValidateDeclared(doc map[string]any) (*Document, error) {
	v, err := DeclaredVersion(doc)
	if err != nil {
		return nil, err
	}
	return r.Validate(doc, v)
}

// DeclaredVersion reads the numeric "version" field, or the major part of
// a semver "schemaVersion" field.
func DeclaredVersion(doc map[string]any) (int, error) {
	if v, ok := doc["version"]; ok {
		switch n := v.(type) {
		case float64:
			if n >= math.MinInt32 && n <= math.MaxInt32 && n == math.Trunc(n) {
				return int(n), nil
			}
		case int:
			return n, nil
		case int64:
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return int(n), nil
			}
		}
		return 0, fmt.Errorf("metadata version must be an integer, got %v", v)
	}
	if v, ok := doc["schemaVersion"].(string); ok {
		major, _, _ := strings.Cut(v, ".")
		n, err := strconv.Atoi(major)
		if err != nil {
			return 0, fmt.Errorf("parse schemaVersion %q: %w", v, err)
		}
		return n, nil
	}
	return 0, errors.New("metadata document declares no version")
}

// normalize deep-copies doc into plain JSON values, which is what the
// schema validator accepts.
func normalize(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

var quoted = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)

// collectFields walks the leaf causes of a validation error and turns their
// instance locations into dotted field paths.
func collectFields(ve *jsonschema.ValidationError) (fields, details []string) {
	seen := make(map[string]bool)
	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		fields = append(fields, f)
	}

	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		details = append(details, fmt.Sprintf("%s: %s", cmp.Or(e.InstanceLocation, "/"), e.Message))
		base := pointerToPath(e.InstanceLocation)
		if strings.HasPrefix(e.Message, "missing properties:") {
			for _, m := range quoted.FindAllStringSubmatch(e.Message, -1) {
				add(join(base, m[1]))
			}
			return
		}
		add(cmp.Or(base, "(root)"))
	}
	walk(ve)
	return fields, details
}

func pointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
