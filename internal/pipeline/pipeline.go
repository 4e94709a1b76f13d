// Package pipeline turns a candidate query into a bounded result:
// validate, reject unsafe text, repair, regenerate when allowed, execute and
// record the outcome.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/querygate/querygate/internal/dialect"
	"github.com/querygate/querygate/internal/history"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/regen"
)

// ErrorClass tells callers which kind of failure ended a run.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassTransient  ErrorClass = "transient"
	ClassExecution  ErrorClass = "execution"
	ClassSecurity   ErrorClass = "security"
)

const whitelistRule = "statement_whitelist"

type Request struct {
	Reasoning           string
	SQL                 string
	UserQuestion        string
	Explain             bool
	AttemptRegeneration bool
	// MaxRegenerationAttempts below zero means the configured default.
	MaxRegenerationAttempts int
}

type Response struct {
	Success              bool                     `json:"success"`
	OriginalSQL          string                   `json:"original_sql"`
	FinalSQL             string                   `json:"final_sql,omitempty"`
	Validation           dialect.ValidationResult `json:"validation"`
	Repairs              []dialect.RepairAction   `json:"repairs"`
	RegenerationAttempts int                      `json:"regeneration_attempts"`
	Result               *query.Result            `json:"result,omitempty"`
	ErrorClass           ErrorClass               `json:"error_class,omitempty"`
	Error                string                   `json:"error,omitempty"`
}

type Options struct {
	Checker     *dialect.Checker
	Regenerator *regen.Orchestrator
	Recorder    history.Recorder
	Logger      *slog.Logger
	// MaxRegenerationAttempts is the default budget for requests that do not
	// name one.
	MaxRegenerationAttempts int
	AllowWrites             bool
}

type Pipeline struct {
	checker     *dialect.Checker
	regenerator *regen.Orchestrator
	engine      query.Engine
	recorder    history.Recorder
	logger      *slog.Logger
	maxAttempts int
	allowWrites bool
}

func New(engine query.Engine, opts Options) *Pipeline {
	if opts.Checker == nil {
		opts.Checker = dialect.New(dialect.Options{})
	}
	if opts.Recorder == nil {
		opts.Recorder = history.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.DiscardLogger()
	}
	if opts.MaxRegenerationAttempts < 0 || opts.MaxRegenerationAttempts > regen.MaxAttemptsLimit {
		opts.MaxRegenerationAttempts = regen.DefaultMaxAttempts
	}
	return &Pipeline{
		checker:     opts.Checker,
		regenerator: opts.Regenerator,
		engine:      engine,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		maxAttempts: opts.MaxRegenerationAttempts,
		allowWrites: opts.AllowWrites,
	}
}

// RegenerationEnabled reports whether a candidate generator is wired in.
func (p *Pipeline) RegenerationEnabled() bool {
	return p.regenerator.Enabled()
}

// Run never returns an error: every failure is described by the Response.
func (p *Pipeline) Run(ctx context.Context, req Request) Response {
	logger := observability.LoggerWithTrace(ctx, p.logger)
	original := strings.TrimSpace(req.SQL)
	resp := Response{OriginalSQL: original, Repairs: []dialect.RepairAction{}}

	verdict := p.validate(original)
	logger.DebugContext(ctx, "validated candidate",
		slog.Bool("valid", verdict.IsValid),
		slog.Int("errors", len(verdict.Errors)),
		slog.Int("warnings", len(verdict.Warnings)),
	)
	if verdict.HasSecurityError() {
		resp.Validation = verdict
		return p.finish(ctx, req, p.reject(resp, ClassSecurity, verdict))
	}

	candidate := original
	repaired := p.checker.Repair(candidate)
	if repaired.AppliedAny {
		for _, action := range repaired.Repairs {
			observability.ObserveRepair(action.Kind)
		}
		logger.InfoContext(ctx, "repaired candidate",
			slog.Int("repairs", len(repaired.Repairs)),
			slog.String("sql", repaired.RepairedText),
		)
		candidate = repaired.RepairedText
		resp.Repairs = append(resp.Repairs, repaired.Repairs...)
		verdict = p.validate(candidate)
	}
	resp.FinalSQL = candidate
	resp.Validation = verdict

	if !verdict.IsValid && !verdict.HasSecurityError() && req.AttemptRegeneration && p.regenerator.Enabled() {
		budget := req.MaxRegenerationAttempts
		if budget < 0 {
			budget = p.maxAttempts
		}
		outcome := p.regenerator.Run(ctx, regen.Request{
			Instructions: instructions(req),
			Candidate:    candidate,
			Validation:   verdict,
			MaxAttempts:  budget,
		})
		resp.RegenerationAttempts = outcome.Attempts
		verdict = outcome.Validation
		resp.Validation = verdict
		if outcome.Valid {
			candidate = outcome.SQL
			resp.FinalSQL = candidate
			resp.Repairs = append(resp.Repairs, outcome.Repairs...)
		}
	}

	if !verdict.IsValid {
		class := ClassValidation
		if verdict.HasSecurityError() {
			class = ClassSecurity
		}
		return p.finish(ctx, req, p.reject(resp, class, verdict))
	}

	result := p.engine.Execute(ctx, query.Request{SQL: candidate, Explain: req.Explain, AllowWrites: p.allowWrites})
	resp.Result = &result
	resp.Success = result.Success
	if !result.Success {
		resp.Error = result.Error
		switch {
		case result.Code == "READ_ONLY_VIOLATION":
			resp.ErrorClass = ClassSecurity
		case result.Transient:
			resp.ErrorClass = ClassTransient
		default:
			resp.ErrorClass = ClassExecution
		}
	}
	return p.finish(ctx, req, resp)
}

func (p *Pipeline) validate(text string) dialect.ValidationResult {
	verdict := p.allowWritesIn(p.checker.Validate(text))
	observability.ObserveValidation(verdict.IsValid)
	return verdict
}

// allowWritesIn drops the statement whitelist error when writes are enabled.
// Chaining and comment rules still apply.
func (p *Pipeline) allowWritesIn(verdict dialect.ValidationResult) dialect.ValidationResult {
	if !p.allowWrites {
		return verdict
	}
	kept := make([]dialect.ValidationError, 0, len(verdict.Errors))
	for _, e := range verdict.Errors {
		if e.Rule != whitelistRule {
			kept = append(kept, e)
		}
	}
	verdict.Errors = kept
	verdict.IsValid = len(kept) == 0
	return verdict
}

func (p *Pipeline) reject(resp Response, class ErrorClass, verdict dialect.ValidationResult) Response {
	resp.Success = false
	resp.ErrorClass = class
	resp.Error = strings.Join(verdict.Messages(), "; ")
	if class == ClassSecurity {
		resp.FinalSQL = ""
	}
	return resp
}

func (p *Pipeline) finish(ctx context.Context, req Request, resp Response) Response {
	entry := history.Entry{
		TraceID:              observability.TraceIDFromContext(ctx),
		Tool:                 "execute_sql",
		Reasoning:            req.Reasoning,
		UserQuestion:         req.UserQuestion,
		OriginalSQL:          resp.OriginalSQL,
		FinalSQL:             resp.FinalSQL,
		Success:              resp.Success,
		ErrorClass:           string(resp.ErrorClass),
		ErrorMessage:         resp.Error,
		Repairs:              resp.Repairs,
		RegenerationAttempts: resp.RegenerationAttempts,
	}
	if resp.Result != nil {
		entry.ErrorCode = resp.Result.Code
		entry.RowCount = resp.Result.RowCount
		entry.Truncated = resp.Result.Truncated
		entry.ExecutionTimeMs = resp.Result.ExecutionTimeMs
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		observability.LoggerWithTrace(ctx, p.logger).WarnContext(ctx, "record query history failed", slog.String("error", err.Error()))
	}
	if !resp.Success {
		observability.LoggerWithTrace(ctx, p.logger).InfoContext(ctx, "execute_sql failed",
			slog.String("error_class", string(resp.ErrorClass)),
			slog.String("error", resp.Error),
		)
	}
	return resp
}

func instructions(req Request) string {
	var parts []string
	if q := strings.TrimSpace(req.UserQuestion); q != "" {
		parts = append(parts, "User question: "+q)
	}
	if r := strings.TrimSpace(req.Reasoning); r != "" {
		parts = append(parts, "Reasoning: "+r)
	}
	return strings.Join(parts, "\n")
}
