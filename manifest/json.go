package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const jsonIndent = "  "

type jsonField struct {
	key   string
	value json.RawMessage
}

func parseJSON(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("manifest: parsing JSON: %w", err)
	}

	m := &Manifest{format: FormatJSON, index: map[string]int{}}
	seen := map[string]bool{}
	hasTools := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("manifest: parsing JSON: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("manifest: parsing JSON: unexpected token %v", tok)
		}
		if seen[key] {
			return nil, fmt.Errorf("manifest: parsing JSON: duplicate field %q", key)
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("manifest: parsing JSON field %q: %w", key, err)
		}
		if key == toolsKey {
			if err := m.parseJSONTools(raw); err != nil {
				return nil, err
			}
			hasTools = true
		}
		m.fields = append(m.fields, jsonField{key: key, value: raw})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("manifest: parsing JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("manifest: parsing JSON: unexpected data after document")
	}
	if !hasTools {
		return nil, ErrMissingTools
	}
	return m, nil
}

func (m *Manifest) parseJSONTools(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf(`manifest: "tools" must be an object: %w`, err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("manifest: parsing tools: %w", err)
		}
		name, _ := tok.(string)
		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("manifest: parsing tool %q: %w", name, err)
		}
		version, ok := tok.(string)
		if !ok {
			return fmt.Errorf("manifest: tool %q: version must be a string", name)
		}
		if err := m.addEntry(name, version); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return errors.New("empty document")
	}
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func (m *Manifest) marshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n" + jsonIndent)
		if err := writeJSONString(&buf, field.key); err != nil {
			return nil, err
		}
		buf.WriteString(": ")

		if field.key == toolsKey {
			if err := m.writeJSONTools(&buf); err != nil {
				return nil, err
			}
			continue
		}
		if err := writeIndentedJSON(&buf, field.value); err != nil {
			return nil, fmt.Errorf("manifest: encoding field %q: %w", field.key, err)
		}
	}
	if len(m.fields) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func (m *Manifest) writeJSONTools(buf *bytes.Buffer) error {
	if len(m.entries) == 0 {
		buf.WriteString("{}")
		return nil
	}
	buf.WriteByte('{')
	for i, entry := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n" + jsonIndent + jsonIndent)
		if err := writeJSONString(buf, entry.Name); err != nil {
			return err
		}
		buf.WriteString(": ")
		if err := writeJSONString(buf, entry.Version); err != nil {
			return err
		}
	}
	buf.WriteString("\n" + jsonIndent + "}")
	return nil
}

func writeIndentedJSON(buf *bytes.Buffer, raw json.RawMessage) error {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return err
	}
	return json.Indent(buf, compact.Bytes(), jsonIndent, jsonIndent)
}

// writeJSONString encodes s without HTML escaping so versions such as
// "1.0<beta>" survive a rewrite as written.
func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("manifest: encoding string: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
