package manifest

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	yamlIndent = 2
	yamlStrTag = "!!str"
)

func parseYAML(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parsing YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("manifest: parsing YAML: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("manifest: parsing YAML: document must be a mapping")
	}

	m := &Manifest{format: FormatYAML, index: map[string]int{}, doc: &doc}
	var tools *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != toolsKey {
			continue
		}
		if tools != nil {
			return nil, fmt.Errorf("manifest: parsing YAML: duplicate field %q", toolsKey)
		}
		tools = root.Content[i+1]
	}
	if tools == nil {
		return nil, ErrMissingTools
	}
	if tools.Kind != yaml.MappingNode {
		return nil, fmt.Errorf(`manifest: "tools" must be a mapping (line %d)`, tools.Line)
	}

	for i := 0; i+1 < len(tools.Content); i += 2 {
		key, value := tools.Content[i], tools.Content[i+1]
		if value.Kind != yaml.ScalarNode || value.ShortTag() == "!!null" {
			return nil, fmt.Errorf("manifest: tool %q: version must be a string (line %d)", key.Value, value.Line)
		}
		if err := m.addEntry(key.Value, value.Value); err != nil {
			return nil, err
		}
		m.nodes = append(m.nodes, value)
	}
	return m, nil
}

func (m *Manifest) marshalYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)
	if err := enc.Encode(m.doc); err != nil {
		return nil, fmt.Errorf("manifest: encoding YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encoding YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// setYAMLString tags the node as a string so the encoder quotes values such
// as 1.10 that would otherwise read back as numbers.
func setYAMLString(node *yaml.Node, value string) {
	node.Value = value
	node.Tag = yamlStrTag
}
