package api

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/querygate/querygate/internal/tools"
)

type openAPIDocument struct {
	Paths map[string]map[string]struct {
		Parameters []struct {
			Name   string `yaml:"name"`
			Schema struct {
				Enum []string `yaml:"enum"`
			} `yaml:"schema"`
		} `yaml:"parameters"`
	} `yaml:"paths"`
	Components struct {
		Schemas map[string]struct {
			Properties map[string]struct {
				Enum  []string `yaml:"enum"`
				Items struct {
					Properties map[string]struct {
						Enum []string `yaml:"enum"`
					} `yaml:"properties"`
				} `yaml:"items"`
			} `yaml:"properties"`
		} `yaml:"schemas"`
	} `yaml:"components"`
}

func loadOpenAPI(t *testing.T) openAPIDocument {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	content, err := os.ReadFile(filepath.Join(repoRoot, "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("read openapi file error = %v", err)
	}
	var doc openAPIDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("openapi parse error = %v", err)
	}
	return doc
}

func TestOpenAPIContainsImplementedRoutes(t *testing.T) {
	doc := loadOpenAPI(t)

	routes := []struct{ method, path string }{
		{"get", "/v1/health"},
		{"get", "/v1/ready"},
		{"get", "/v1/status"},
		{"get", "/v1/metrics"},
		{"get", "/v1/tools"},
		{"post", "/v1/tools/{name}"},
		{"post", "/v1/sql/validate"},
		{"post", "/v1/sql/repair"},
		{"post", "/v1/sql/generate"},
		{"get", "/v1/history"},
	}
	for _, route := range routes {
		ops, ok := doc.Paths[route.path]
		if !ok {
			t.Fatalf("openapi missing path %s", route.path)
		}
		if _, ok := ops[route.method]; !ok {
			t.Fatalf("openapi path %s missing method %s", route.path, route.method)
		}
	}
}

func TestOpenAPIEnumeratesToolCatalog(t *testing.T) {
	doc := loadOpenAPI(t)

	var enum []string
	for _, p := range doc.Paths["/v1/tools/{name}"]["post"].Parameters {
		if p.Name == "name" {
			enum = p.Schema.Enum
		}
	}
	for _, spec := range tools.Specs() {
		if !slices.Contains(enum, spec.Name) {
			t.Fatalf("openapi tool enum %v missing %q", enum, spec.Name)
		}
	}
	if len(enum) != len(tools.Specs()) {
		t.Fatalf("openapi tool enum %v does not match catalog", enum)
	}
}

func TestOpenAPIErrorClassesMatchPipeline(t *testing.T) {
	doc := loadOpenAPI(t)

	classes := doc.Components.Schemas["ToolResult"].Properties["error_class"].Enum
	for _, want := range []string{"validation", "transient", "execution", "security"} {
		if !slices.Contains(classes, want) {
			t.Fatalf("error_class enum %v missing %q", classes, want)
		}
	}
	severities := doc.Components.Schemas["ValidationResult"].Properties["errors"].Items.Properties["severity"].Enum
	if !slices.Equal(severities, []string{"critical", "high", "medium", "low"}) {
		t.Fatalf("severity enum = %v", severities)
	}
}
