package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// ParseBytes decodes config content; the file extension in path selects JSON or YAML.
// Both formats are decoded by the same strict JSON decoder.
func ParseBytes(path string, b []byte) (*Config, error) {
	f := formatOf(path)
	if f == formatYAML {
		jb, err := yamlDocToJSON(b)
		if err != nil {
			return nil, err
		}
		b = jb
	}
	var cfg Config
	if err := decodeStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", f, err)
	}
	return &cfg, nil
}

func yamlDocToJSON(b []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return []byte("{}"), nil
	}
	v, err := nodeValue(doc.Content[0])
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// nodeValue turns a YAML node into plain maps, slices and scalars.
func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[n.Content[i].Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("yaml line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("yaml line %d: unsupported node kind %d", n.Line, n.Kind)
	}
}

// decodeStrict accepts exactly one JSON document with no unknown fields.
func decodeStrict(b []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("trailing data after config document")
	default:
		return err
	}
}
