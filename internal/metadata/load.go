package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a metadata document from a JSON, YAML or TOML file, chosen by
// extension. Anything other than .yaml, .yml or .toml is decoded as JSON.
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}

	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse metadata yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("parse metadata toml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse metadata json: %w", err)
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("metadata file %s is empty", path)
	}
	return doc, nil
}

// Sections validates each known section of a recording's metadata
// ("test", "source") with its registry. Sections that fail are dropped and
// their errors returned; unknown keys pass through unchanged.
func Sections(meta map[string]any, registries map[string]*Registry) (map[string]any, map[string]error) {
	out := make(map[string]any, len(meta))
	var errs map[string]error
	for k, v := range meta {
		reg, ok := registries[k]
		if !ok {
			out[k] = v
			continue
		}
		section, ok := v.(map[string]any)
		if !ok {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[k] = fmt.Errorf("%s metadata is not an object", k)
			continue
		}
		doc, err := reg.ValidateDeclared(section)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[k] = err
			continue
		}
		out[k] = doc.Data
	}
	return out, errs
}
