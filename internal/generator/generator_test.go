package generator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "structured query", raw: `{"query": "SELECT 1"}`, want: "SELECT 1"},
		{name: "structured sql", raw: ` {"sql": "SELECT 2", "explanation": "x"} `, want: "SELECT 2"},
		{name: "fenced sql", raw: "Here you go:\n```sql\nSELECT id FROM t LIMIT 5\n```\nEnjoy", want: "SELECT id FROM t LIMIT 5"},
		{name: "fenced json", raw: "```json\n{\"query\": \"SELECT 3\"}\n```", want: "SELECT 3"},
		{name: "keyword", raw: "The query is: select name from users limit 1", want: "select name from users limit 1"},
		{name: "with keyword", raw: "Sure. WITH x AS (SELECT 1) SELECT * FROM x", want: "WITH x AS (SELECT 1) SELECT * FROM x"},
		{name: "raw passthrough", raw: "  no statement here  ", want: "no statement here"},
		{name: "json without query falls through", raw: `{"answer": 42}`, want: `{"answer": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.raw); got != tt.want {
				t.Fatalf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFuncAdapter(t *testing.T) {
	var g Generator = Func(func(_ context.Context, prompt string) (string, error) {
		return "echo:" + prompt, nil
	})
	got, err := g.Generate(context.Background(), "x")
	if err != nil || got != "echo:x" {
		t.Fatalf("Generate() = %q, %v", got, err)
	}
}

func TestNewOpenAIGeneratorValidatesConfig(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected base URL error")
	}
	if _, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected api key error")
	}
	g, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://x/", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	if g.Model() != "gpt-5" {
		t.Fatalf("Model() = %q", g.Model())
	}
}

func TestOpenAIGeneratorGenerate(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SELECT 1"}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "secret", Model: "m1", Temperature: 0.1})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	got, err := g.Generate(context.Background(), "count users")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Generate() = %q", got)
	}
	if gotBody["model"] != "m1" {
		t.Fatalf("model = %v", gotBody["model"])
	}
	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", gotBody["messages"])
	}
	user, _ := messages[1].(map[string]any)
	if user["content"] != "count users" {
		t.Fatalf("user content = %v", user["content"])
	}
}

func TestOpenAIGeneratorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g, _ := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := g.Generate(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Generate() error = %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()
	g, _ = NewOpenAIGenerator(OpenAIConfig{BaseURL: empty.URL, APIKey: "k"})
	if _, err := g.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIGeneratorHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g, _ := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 20 * time.Millisecond})
	if _, err := g.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestQuestionPromptCarriesSchemaAndQuestion(t *testing.T) {
	prompt, err := QuestionPrompt("  top customers by revenue ", []TableContext{
		{TableName: "orders", Columns: []string{"id", "customer_id", "total"}},
	})
	if err != nil {
		t.Fatalf("QuestionPrompt() error = %v", err)
	}
	for _, want := range []string{`"table_name":"orders"`, `"customer_id"`, "User request:\ntop customers by revenue\n", "LIMIT 100"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
