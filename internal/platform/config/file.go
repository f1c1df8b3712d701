package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load returns a root Conf backed by the environment and, underneath it, the YAML
// settings file at path. Nested keys flatten to env names, so
//
//	pagerflow:
//	  source:
//	    url: https://acme.pagerduty.com/api/v1
//
// answers PAGERFLOW_SOURCE_URL. An empty path returns New()
func Load(path string) (Conf, error) {
	if strings.TrimSpace(path) == "" {
		return New(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Conf{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	return Parse(b)
}

// Parse builds a root Conf from YAML settings bytes
func Parse(b []byte) (Conf, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Conf{}, fmt.Errorf("parse settings: %w", err)
	}
	flat := map[string]string{}
	flatten("", doc, flat)
	return Conf{file: flat}, nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flatten(joinKey(prefix, k), child, out)
		}
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		// explicit null leaves the key unset
	default:
		out[prefix] = fmt.Sprint(t)
	}
}

func joinKey(prefix, k string) string {
	k = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(strings.TrimSpace(k)))
	if prefix == "" {
		return k
	}
	return prefix + "_" + k
}
