// Package generator talks to the external candidate generator that turns
// prompts into query text.
package generator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Generator returns free text (or a JSON {"query": ...} payload) for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

var (
	reFenced    = regexp.MustCompile("(?s)```[A-Za-z]*[ \\t]*\\n?(.*?)```")
	reStatement = regexp.MustCompile(`(?is)\b(SELECT|WITH|EXPLAIN|DESCRIBE|SHOW)\b.*`)
)

// Extract pulls query text out of a generator reply. It tries, in order, a
// structured {"query"} or {"sql"} payload, a fenced code block, the first
// statement keyword, and finally returns the trimmed reply unchanged.
func Extract(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if query, ok := structuredQuery(trimmed); ok {
		return query
	}
	if m := reFenced.FindStringSubmatch(trimmed); m != nil {
		block := strings.TrimSpace(m[1])
		if query, ok := structuredQuery(block); ok {
			return query
		}
		if block != "" {
			return block
		}
	}
	if m := reStatement.FindString(trimmed); m != "" {
		return strings.TrimSpace(m)
	}
	return trimmed
}

func structuredQuery(text string) (string, bool) {
	if !strings.HasPrefix(text, "{") {
		return "", false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", false
	}
	for _, key := range []string{"query", "sql"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
