package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML config file and exposes it through the same keys as
// the environment. Nested keys are joined with underscores, so
//
//	store:
//	  pool_size: 20
//
// answers the lookup for QUERYGATE_STORE_POOL_SIZE.
func LoadFile(path string) (LookupFunc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseYAML(raw)
}

func ParseYAML(raw []byte) (LookupFunc, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	values := map[string]string{}
	flatten("QUERYGATE", doc, values)
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}, nil
}

// Layered returns a lookup that consults each source in order and returns the
// first hit.
func Layered(sources ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, source := range sources {
			if source == nil {
				continue
			}
			if value, ok := source(key); ok {
				return value, true
			}
		}
		return "", false
	}
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		name := prefix + "_" + strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
		switch typed := value.(type) {
		case map[string]any:
			flatten(name, typed, out)
		case nil:
		default:
			out[name] = fmt.Sprint(typed)
		}
	}
}
