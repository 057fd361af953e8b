// Package settings reads and edits the application's YAML settings file by dotted key,
// keeping comments and key order intact.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotMapping is returned when a dotted key walks through a non-mapping node.
var ErrNotMapping = errors.New("settings: path crosses a non-mapping node")

// Document is a parsed settings file.
type Document struct {
	root *yaml.Node
}

// Parse decodes YAML into a Document. Empty input yields an empty mapping.
func Parse(data []byte) (*Document, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse settings: %w", ErrNotMapping)
	}
	return &Document{root: &doc}, nil
}

// Load reads path. A missing file is an empty document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse(nil)
		}
		return nil, err
	}
	return Parse(data)
}

// Bytes encodes the document back to YAML.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Lookup returns the node at a dotted key.
func (d *Document) Lookup(key string) (*yaml.Node, bool) {
	node := d.root.Content[0]
	for _, part := range strings.Split(key, ".") {
		if node.Kind != yaml.MappingNode {
			return nil, false
		}
		next := child(node, part)
		if next == nil {
			return nil, false
		}
		node = next
	}
	return node, true
}

// Float returns a numeric scalar.
func (d *Document) Float(key string) (float64, bool) {
	node, ok := d.Lookup(key)
	if !ok || node.Kind != yaml.ScalarNode {
		return 0, false
	}
	v, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// String returns a scalar's raw value.
func (d *Document) String(key string) (string, bool) {
	node, ok := d.Lookup(key)
	if !ok || node.Kind != yaml.ScalarNode {
		return "", false
	}
	return node.Value, true
}

// Strings returns a sequence of scalars.
func (d *Document) Strings(key string) ([]string, bool) {
	node, ok := d.Lookup(key)
	if !ok || node.Kind != yaml.SequenceNode {
		return nil, false
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		out = append(out, item.Value)
	}
	return out, true
}

// Set stores value at a dotted key, creating intermediate mappings. It returns the
// previous value rendered as YAML, or "" when the key was absent.
func (d *Document) Set(key string, value interface{}) (string, error) {
	var encoded yaml.Node
	if err := encoded.Encode(value); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}

	parts := strings.Split(key, ".")
	node := d.root.Content[0]
	for _, part := range parts[:len(parts)-1] {
		next := child(node, part)
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			appendPair(node, part, next)
		}
		if next.Kind != yaml.MappingNode {
			return "", fmt.Errorf("set %s: %w", key, ErrNotMapping)
		}
		node = next
	}

	leaf := parts[len(parts)-1]
	existing := child(node, leaf)
	if existing == nil {
		appendPair(node, leaf, &encoded)
		return "", nil
	}
	previous := render(existing)
	comment := existing.LineComment
	*existing = encoded
	existing.LineComment = comment
	return previous, nil
}

func child(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func appendPair(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func render(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// FileReader reads values from a settings file on every call so edits are observed.
type FileReader struct {
	Path string
}

// Float returns the numeric value at key, or false when the file or key is absent.
func (r FileReader) Float(key string) (float64, bool) {
	doc, err := Load(r.Path)
	if err != nil {
		return 0, false
	}
	return doc.Float(key)
}
