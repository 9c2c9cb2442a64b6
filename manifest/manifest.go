// Package manifest reads and writes tool version manifests.
//
// A manifest is a JSON (or YAML) document whose "tools" object maps tool
// identifiers to version strings:
//
//	{
//	  "tools": {
//	    "git": "2.42.1"
//	  }
//	}
//
// Key order is kept from load to write, and any other top-level fields are
// written back untouched.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the on-disk encoding of a manifest.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const toolsKey = "tools"

// ErrMissingTools is returned when a document has no "tools" object.
var ErrMissingTools = errors.New(`manifest: document has no "tools" object`)

// LoadError reports a manifest that could not be read or parsed.
// It is fatal to an update run: nothing is fetched and nothing is written.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("manifest: load %q: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying read or parse error.
func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Entry is one tool identifier and its version.
type Entry struct {
	Name    string
	Version string
}

// Manifest is an in-memory tool manifest. The set of tool names is fixed at
// parse time; only versions can change.
type Manifest struct {
	format  Format
	entries []Entry
	index   map[string]int

	// JSON codec state: every top-level field in document order.
	fields []jsonField

	// YAML codec state: the parsed node tree and the value node of each entry.
	doc   *yaml.Node
	nodes []*yaml.Node
}

// FormatFromPath selects YAML for .yaml/.yml paths and JSON otherwise.
func FormatFromPath(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return FormatYAML
	}
	return FormatJSON
}

// Load reads and parses the manifest at path. The format follows the file
// extension. Any failure is returned as *LoadError.
func Load(path string) (*Manifest, error) {
	// #nosec G304 -- manifest path comes from local configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	m, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return m, nil
}

// Save serializes m and overwrites the file at path.
func Save(path string, m *Manifest) error {
	if m == nil {
		return errors.New("manifest: nil manifest")
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write %q: %w", path, err)
	}
	return nil
}

// Parse decodes a manifest document in the given format.
func Parse(data []byte, format Format) (*Manifest, error) {
	switch format {
	case FormatJSON, "":
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	default:
		return nil, fmt.Errorf("manifest: unsupported format %q", format)
	}
}

// Marshal encodes the manifest in its original format with 2-space indentation.
func (m *Manifest) Marshal() ([]byte, error) {
	if m == nil {
		return nil, errors.New("manifest: nil manifest")
	}
	switch m.format {
	case FormatYAML:
		return m.marshalYAML()
	default:
		return m.marshalJSON()
	}
}

// Format returns the encoding the manifest was parsed from.
func (m *Manifest) Format() Format {
	return m.format
}

// Len returns the number of tools.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Names returns the tool identifiers in document order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.entries))
	for i, entry := range m.entries {
		names[i] = entry.Name
	}
	return names
}

// Entries returns a copy of the entries in document order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Version returns the current version recorded for name.
func (m *Manifest) Version(name string) (string, bool) {
	i, ok := m.index[name]
	if !ok {
		return "", false
	}
	return m.entries[i].Version, true
}

// SetVersion replaces the version of an existing tool. Unknown names are
// ignored and reported with false; the manifest never gains keys.
func (m *Manifest) SetVersion(name, version string) bool {
	i, ok := m.index[name]
	if !ok {
		return false
	}
	m.entries[i].Version = version
	if m.format == FormatYAML && i < len(m.nodes) {
		setYAMLString(m.nodes[i], version)
	}
	return true
}

func (m *Manifest) addEntry(name, version string) error {
	if _, dup := m.index[name]; dup {
		return fmt.Errorf("manifest: duplicate tool %q", name)
	}
	m.index[name] = len(m.entries)
	m.entries = append(m.entries, Entry{Name: name, Version: version})
	return nil
}
