// Package regen asks the candidate generator to fix a query that failed
// validation, feeding back the specific errors, for a bounded number of
// attempts.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/querygate/querygate/internal/dialect"
	"github.com/querygate/querygate/internal/generator"
	"github.com/querygate/querygate/internal/observability"
)

const (
	DefaultMaxAttempts = 2
	MaxAttemptsLimit   = 3
)

var ErrInvalidMaxAttempts = fmt.Errorf("max regeneration attempts must be between 0 and %d", MaxAttemptsLimit)

// Request describes one failing candidate. Instructions carries the caller's
// reasoning and, when present, the original user question.
type Request struct {
	Instructions string
	Candidate    string
	Validation   dialect.ValidationResult
	MaxAttempts  int
}

// Outcome is the result of the loop. SQL is only meaningful when Valid is
// true; otherwise Validation is the verdict on the last candidate seen.
type Outcome struct {
	SQL        string                   `json:"sql,omitempty"`
	Valid      bool                     `json:"valid"`
	Attempts   int                      `json:"attempts"`
	Validation dialect.ValidationResult `json:"validation"`
	Repairs    []dialect.RepairAction   `json:"repairs,omitempty"`
	Failures   []string                 `json:"failures,omitempty"`
}

type Orchestrator struct {
	generator generator.Generator
	checker   *dialect.Checker
	logger    *slog.Logger
}

// New returns an orchestrator. A nil generator yields an orchestrator that
// never runs.
func New(gen generator.Generator, checker *dialect.Checker, logger *slog.Logger) *Orchestrator {
	if checker == nil {
		checker = dialect.New(dialect.Options{})
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Orchestrator{generator: gen, checker: checker, logger: logger}
}

func (o *Orchestrator) Enabled() bool {
	return o != nil && o.generator != nil
}

// ClampAttempts validates a caller supplied attempt budget. Negative values
// mean "use the default".
func ClampAttempts(n int) (int, error) {
	switch {
	case n < 0:
		return DefaultMaxAttempts, nil
	case n > MaxAttemptsLimit:
		return 0, fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, n)
	default:
		return n, nil
	}
}

// Run loops until a generated candidate validates or the budget is spent.
// The returned Outcome never carries an unvalidated query as valid.
func (o *Orchestrator) Run(ctx context.Context, req Request) Outcome {
	outcome := Outcome{Validation: req.Validation}
	if req.Validation.IsValid || !o.Enabled() || req.MaxAttempts <= 0 {
		return outcome
	}
	maxAttempts := min(req.MaxAttempts, MaxAttemptsLimit)

	logger := observability.LoggerWithTrace(ctx, o.logger)
	candidate := req.Candidate
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome.Failures = append(outcome.Failures, err.Error())
			break
		}
		outcome.Attempts = attempt
		next, ok, err := o.Regenerate(ctx, req.Instructions, candidate, outcome.Validation, attempt, maxAttempts)
		if err != nil {
			observability.ObserveRegenerationAttempt("generator_error")
			logger.InfoContext(ctx, "regeneration attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			outcome.Failures = append(outcome.Failures, fmt.Sprintf("attempt %d: %v", attempt, err))
			continue
		}
		candidate = next.SQL
		outcome.Validation = next.Validation
		if ok {
			observability.ObserveRegenerationAttempt("valid")
			outcome.SQL = next.SQL
			outcome.Valid = true
			outcome.Repairs = next.Repairs
			logger.InfoContext(ctx, "regeneration produced a valid query",
				slog.Int("attempt", attempt),
				slog.Int("repairs", len(next.Repairs)),
			)
			return outcome
		}
		observability.ObserveRegenerationAttempt("invalid")
		logger.InfoContext(ctx, "regenerated query still invalid",
			slog.Int("attempt", attempt),
			slog.Any("errors", next.Validation.Messages()),
		)
	}
	return outcome
}

// Candidate is one generated query after extraction and a single repair
// pass.
type Candidate struct {
	SQL        string
	Validation dialect.ValidationResult
	Repairs    []dialect.RepairAction
}

var errEmptyCandidate = errors.New("generator returned no query text")

// Regenerate performs one round trip. The boolean reports whether the
// returned candidate validates. A generator failure or an empty reply is an
// error and counts as a spent attempt.
func (o *Orchestrator) Regenerate(ctx context.Context, instructions, failing string, validation dialect.ValidationResult, attempt, maxAttempts int) (Candidate, bool, error) {
	if !o.Enabled() {
		return Candidate{}, false, errors.New("no candidate generator configured")
	}
	prompt := FeedbackPrompt(instructions, failing, validation, attempt, maxAttempts)
	raw, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("generate: %w", err)
	}
	text := generator.Extract(raw)
	if strings.TrimSpace(text) == "" {
		return Candidate{}, false, errEmptyCandidate
	}

	verdict := o.checker.Validate(text)
	observability.ObserveValidation(verdict.IsValid)
	if verdict.HasSecurityError() {
		return Candidate{SQL: text, Validation: verdict}, false, nil
	}

	// Valid candidates still pass through repair so they get the default
	// LIMIT like any directly submitted query.
	repaired := o.checker.Repair(text)
	if !repaired.AppliedAny {
		return Candidate{SQL: text, Validation: verdict}, verdict.IsValid, nil
	}
	for _, action := range repaired.Repairs {
		observability.ObserveRepair(action.Kind)
	}
	verdict = o.checker.Validate(repaired.RepairedText)
	observability.ObserveValidation(verdict.IsValid)
	return Candidate{SQL: repaired.RepairedText, Validation: verdict, Repairs: repaired.Repairs}, verdict.IsValid, nil
}

// FeedbackPrompt builds the correction request sent to the generator.
func FeedbackPrompt(instructions, failing string, validation dialect.ValidationResult, attempt, maxAttempts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The previous MySQL query failed validation (correction attempt %d of %d).\n", attempt, maxAttempts)
	b.WriteString("Write a new query for MySQL 8 that answers the original request.\n\n")

	b.WriteString("Original instructions:\n")
	if text := strings.TrimSpace(instructions); text != "" {
		b.WriteString(text)
	} else {
		b.WriteString("(none given)")
	}
	b.WriteString("\n\nProblems to fix:\n")
	if len(validation.Errors) == 0 {
		b.WriteString("1. the query could not be validated\n")
	}
	for i, e := range validation.Errors {
		fmt.Fprintf(&b, "%d. [%s/%s] %s", i+1, e.Kind, e.Severity, e.Message)
		if e.Suggestion != "" {
			fmt.Fprintf(&b, " Hint: %s", e.Suggestion)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nFailing query (reference only, do not copy):\n```sql\n")
	b.WriteString(strings.TrimSpace(failing))
	b.WriteString("\n```\n\n")
	b.WriteString("Rules:\n- Output a single read-only SELECT statement.\n- Use MySQL syntax only.\n- Include a LIMIT clause.\n")
	b.WriteString(`Reply with JSON {"query": "..."} or a single SQL code block.`)
	return b.String()
}
