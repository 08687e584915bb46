package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Include directives. The dollar-prefixed form is canonical; the bare form
// is accepted for hand-written files.
const (
	includeKey       = "$include"
	includeKeyLegacy = "include"
)

// LoadRaw reads path into a raw key map with environment variables expanded
// and include directives resolved. Included files merge first, so the
// including file always wins on conflicts.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	ld := &loader{active: map[string]bool{}}
	return ld.load(path)
}

// loader tracks the chain of files currently being resolved so an include
// that loops back to an ancestor is caught instead of recursing forever.
type loader struct {
	active map[string]bool
}

func (l *loader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.active[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.active[abs] = true
	defer delete(l.active, abs)

	raw, err := readDocument(abs)
	if err != nil {
		return nil, err
	}

	includes, err := popIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		section, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, section)
	}
	return deepMerge(merged, raw), nil
}

// readDocument parses one file by extension: .json/.json5 through the json5
// decoder, everything else as a single YAML document. Environment variables
// expand before parsing so they work inside any value.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		if err := decodeSingleYAML(data, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// decodeSingleYAML decodes exactly one document into out; trailing documents
// are an error rather than silently dropped.
func decodeSingleYAML(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("expected a single document")
	}
	return nil
}

// popIncludes removes the include directive from raw and returns its paths.
// Accepted shapes: one string, or a list of strings.
func popIncludes(raw map[string]any) ([]string, error) {
	var directive any
	for _, key := range []string{includeKey, includeKeyLegacy} {
		if value, ok := raw[key]; ok {
			directive = value
			delete(raw, key)
			break
		}
	}

	switch typed := directive.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			path, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entry %v is not a string", entry)
			}
			paths = append(paths, path)
		}
		return paths, nil
	default:
		return nil, errors.New("include must be a string or a list of strings")
	}
}

// deepMerge folds src into dst. Nested maps merge key by key; everything
// else, lists included, replaces wholesale.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig strictly decodes a merged raw map into the typed Config.
// Unknown keys are rejected so a typo surfaces at load time instead of
// silently falling back to a default.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
