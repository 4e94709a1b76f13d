package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/cli/querygatectl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYGATE_CLI_TIMEOUT")), 10*time.Second)
	options := querygatectl.Options{
		BaseURL:      envOr("QUERYGATE_API_URL", "http://localhost:8080"),
		Timeout:      timeout,
		DefaultLimit: envInt("QUERYGATE_PIPELINE_DEFAULT_LIMIT"),
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
	}

	code := querygatectl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return value
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYGATE_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
