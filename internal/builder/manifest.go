package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/modelsync/internal/artifact"
	"github.com/steveyegge/modelsync/internal/model"
)

// Manifest is the on-disk description of the units declared by one
// artifact. Manifests are JSON, YAML or TOML files named *.unit.json,
// *.unit.yaml, *.unit.yml or *.unit.toml.
type Manifest struct {
	Namespace string `json:"namespace" yaml:"namespace" toml:"namespace"`
	// Marker manifests declare no units; they keep their namespace alive.
	Marker bool   `json:"marker,omitempty" yaml:"marker,omitempty" toml:"marker,omitempty"`
	Units  []Decl `json:"units,omitempty" yaml:"units,omitempty" toml:"units,omitempty"`
}

// Decl declares one unit. An empty Name declares an anonymous unit, which is
// only allowed when nested.
type Decl struct {
	Name      string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Line      int      `json:"line,omitempty" yaml:"line,omitempty" toml:"line,omitempty"`
	Refs      []string `json:"refs,omitempty" yaml:"refs,omitempty" toml:"refs,omitempty"`
	Nested    []Decl   `json:"nested,omitempty" yaml:"nested,omitempty" toml:"nested,omitempty"`
	Synthetic bool     `json:"synthetic,omitempty" yaml:"synthetic,omitempty" toml:"synthetic,omitempty"`
}

// Format is a manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the manifest format implied by a file name.
func FormatOf(name string) (Format, bool) {
	base := filepath.Base(name)
	switch {
	case strings.HasSuffix(base, ".unit.json"):
		return FormatJSON, true
	case strings.HasSuffix(base, ".unit.yaml"), strings.HasSuffix(base, ".unit.yml"):
		return FormatYAML, true
	case strings.HasSuffix(base, ".unit.toml"):
		return FormatTOML, true
	}
	return "", false
}

// ReadManifest reads and decodes the manifest at path. Unknown keys are
// rejected in every format.
func ReadManifest(path string) (*Manifest, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("not a manifest: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return DecodeManifest(format, data)
}

// DecodeManifest decodes data in the given format.
func DecodeManifest(format Format, data []byte) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse JSON manifest: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML manifest: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("failed to parse TOML manifest: unknown keys %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	return &m, nil
}

// Validate checks names and structure.
func (m *Manifest) Validate() error {
	for _, seg := range model.SplitNamespace(m.Namespace) {
		if seg == "" || strings.ContainsAny(seg, "$/ ") {
			return fmt.Errorf("invalid namespace %q", m.Namespace)
		}
	}
	if m.Marker {
		if m.Namespace == "" {
			return fmt.Errorf("marker manifest must name a namespace")
		}
		if len(m.Units) > 0 {
			return fmt.Errorf("marker manifest must not declare units")
		}
		return nil
	}
	return validateDecls(m.Units, true)
}

func validateDecls(decls []Decl, topLevel bool) error {
	seen := make(map[string]bool)
	for _, d := range decls {
		if d.Name == "" && topLevel {
			return fmt.Errorf("line %d: top-level unit must be named", d.Line)
		}
		if strings.ContainsAny(d.Name, ".$/ ") {
			return fmt.Errorf("line %d: invalid unit name %q", d.Line, d.Name)
		}
		if d.Name != "" {
			if _, err := strconv.Atoi(d.Name); err == nil {
				return fmt.Errorf("line %d: unit name %q is reserved for anonymous units", d.Line, d.Name)
			}
			if seen[d.Name] {
				return fmt.Errorf("line %d: duplicate unit %q", d.Line, d.Name)
			}
			seen[d.Name] = true
		}
		if d.Line < 0 {
			return fmt.Errorf("unit %q: negative line %d", d.Name, d.Line)
		}
		if err := validateDecls(d.Nested, false); err != nil {
			return err
		}
	}
	return nil
}

// DeclaredUnits flattens the manifest into units attributed to a, parents
// before children. Anonymous units are numbered per enclosing unit.
func (m *Manifest) DeclaredUnits(a artifact.ID) []model.Unit {
	var out []model.Unit
	var walk func(decls []Decl, parent model.UnitID)
	walk = func(decls []Decl, parent model.UnitID) {
		anon := 0
		for _, d := range decls {
			name := d.Name
			if name == "" {
				anon++
				name = strconv.Itoa(anon)
			}
			id := model.QualifiedName(m.Namespace, parent, name)
			refs := make([]model.UnitID, 0, len(d.Refs))
			for _, r := range d.Refs {
				refs = append(refs, model.UnitID(r))
			}
			out = append(out, model.Unit{
				ID:        id,
				Name:      name,
				Namespace: m.Namespace,
				Parent:    parent,
				Artifact:  a,
				Line:      d.Line,
				Refs:      refs,
				Synthetic: d.Synthetic,
			})
			walk(d.Nested, id)
		}
	}
	walk(m.Units, "")
	return out
}
