package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey is the directive a config document uses to splice in another
// file before decoding. Deployments that split their model registry or MCP
// server list out of the main sshwarpd.yaml use this to keep each file
// focused on one concern.
const includeKey = "$include"

// maxIncludeDepth bounds how many files an $include chain may traverse,
// independent of the cycle check below — a safety net against a long linear
// chain of includes rather than a true cycle.
const maxIncludeDepth = 16

// LoadRaw reads path and every file it transitively $includes into one
// merged map, ready for decodeRawConfig. Included files are parsed as either
// YAML or JSON5 depending on extension; $include values in an included file
// are resolved relative to that file's own directory.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	visited := map[string]bool{}
	return resolveIncludes(path, visited, 0)
}

func resolveIncludes(path string, visited map[string]bool, depth int) (map[string]any, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config: $include chain exceeds depth %d at %s", maxIncludeDepth, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	if visited[absPath] {
		return nil, fmt.Errorf("config: $include cycle detected at %s", absPath)
	}
	visited[absPath] = true
	defer delete(visited, absPath)

	doc, err := readConfigDocument(absPath)
	if err != nil {
		return nil, err
	}

	includePaths, err := popIncludeDirective(doc)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", absPath, err)
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, rel := range includePaths {
		if strings.TrimSpace(rel) == "" {
			continue
		}
		incPath := rel
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		included, err := resolveIncludes(incPath, visited, depth+1)
		if err != nil {
			return nil, err
		}
		merged = overlay(merged, included)
	}

	return overlay(merged, doc), nil
}

// readConfigDocument reads and parses one file, expanding $VAR/${VAR}
// environment references in the raw bytes before handing them to the
// format-specific decoder — so an API key or data directory can come from
// the environment without a templating layer.
func readConfigDocument(absPath string) (map[string]any, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", absPath, err)
	}
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json", ".json5":
		return decodeJSON5(expanded)
	default:
		return decodeYAMLDocument(expanded)
	}
}

func decodeJSON5(text string) (map[string]any, error) {
	var doc map[string]any
	if err := json5.Unmarshal([]byte(text), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func decodeYAMLDocument(text string) (map[string]any, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := rejectTrailingDocument(dec); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// rejectTrailingDocument errors if the decoder has more than one YAML
// document queued up; sshwarpd config files are single-document only.
func rejectTrailingDocument(dec *yaml.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("expected a single YAML document")
	}
	return nil
}

// popIncludeDirective removes and returns includeKey from doc, normalizing
// its value (a bare string or a list of strings) to a slice.
func popIncludeDirective(doc map[string]any) ([]string, error) {
	val, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	switch v := val.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", includeKey)
	}
}

// overlay deep-merges src on top of base, recursing into nested maps so an
// included file can override a single field of a map-valued section without
// replacing the whole section. Scalar and list fields are replaced outright.
func overlay(base, src map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for key, val := range src {
		if nested, ok := val.(map[string]any); ok {
			if existing, ok := base[key].(map[string]any); ok {
				base[key] = overlay(existing, nested)
				continue
			}
		}
		base[key] = val
	}
	return base
}

// decodeRawConfig re-serializes the merged raw map to YAML and decodes it
// into Config with strict field checking, so a typo'd key anywhere in an
// $include chain fails loudly instead of being silently dropped.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: serialize merged document: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := rejectTrailingDocument(dec); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
