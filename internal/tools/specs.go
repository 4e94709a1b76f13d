package tools

// Spec describes one tool for catalogs and MCP registration.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func inputSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var reasoningProperty = map[string]any{
	"type":        "string",
	"description": "Why this call is being made.",
}

// Specs lists the tool catalog in a stable order.
func Specs() []Spec {
	return []Spec{
		{
			Name:        ListTables,
			Description: "List the tables of the analytics database (cached for a few minutes).",
			InputSchema: inputSchema(map[string]any{
				"reasoning":   reasoningProperty,
				"schema_name": map[string]any{"type": "string", "description": "Database to list; defaults to the connection's database."},
			}, "reasoning"),
		},
		{
			Name:        DescribeTable,
			Description: "Describe the columns of a table and, optionally, its indexes.",
			InputSchema: inputSchema(map[string]any{
				"reasoning":       reasoningProperty,
				"table_name":      map[string]any{"type": "string", "pattern": "^[A-Za-z0-9_]+(\\.[A-Za-z0-9_]+)?$"},
				"include_indexes": map[string]any{"type": "boolean", "default": true},
			}, "reasoning", "table_name"),
		},
		{
			Name:        SampleTable,
			Description: "Return a few rows of a table, optionally with its total row count.",
			InputSchema: inputSchema(map[string]any{
				"reasoning":       reasoningProperty,
				"table_name":      map[string]any{"type": "string", "pattern": "^[A-Za-z0-9_]+(\\.[A-Za-z0-9_]+)?$"},
				"row_sample_size": map[string]any{"type": "integer", "minimum": 1, "maximum": 50, "default": 5},
				"include_stats":   map[string]any{"type": "boolean", "default": false},
			}, "reasoning", "table_name"),
		},
		{
			Name:        ExecuteSQL,
			Description: "Validate, repair and run a read-only MySQL query. Results are capped at 100 rows.",
			InputSchema: inputSchema(map[string]any{
				"reasoning":                 reasoningProperty,
				"sql_query":                 map[string]any{"type": "string"},
				"explain_plan":              map[string]any{"type": "boolean", "default": false},
				"user_question":             map[string]any{"type": "string"},
				"attempt_regeneration":      map[string]any{"type": "boolean", "default": true},
				"max_regeneration_attempts": map[string]any{"type": "integer", "minimum": 0, "maximum": 3, "default": 2},
			}, "reasoning", "sql_query"),
		},
	}
}
