// Package dialect validates candidate queries against the MySQL dialect and
// repairs the known catalog of foreign (PostgreSQL-style) mismatches.
package dialect

import (
	"regexp"
	"strconv"
	"strings"
)

const DefaultLimit = 100

var reSelectStar = regexp.MustCompile(`(?i)\bSELECT\s+(DISTINCT\s+)?\*`)

type Options struct {
	// DefaultLimit is appended to read statements that have no LIMIT.
	DefaultLimit int
}

// Checker runs the rule tables. It holds no mutable state and is safe for
// concurrent use.
type Checker struct {
	dialectRules  []Rule
	securityRules []Rule
	defaultLimit  int
}

func New(opts Options) *Checker {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	return &Checker{
		dialectRules:  DialectRules(),
		securityRules: SecurityRules(),
		defaultLimit:  opts.DefaultLimit,
	}
}

var defaultChecker = New(Options{})

func Validate(text string) ValidationResult { return defaultChecker.Validate(text) }

func Repair(text string) RepairResult { return defaultChecker.Repair(text) }

func (c *Checker) DefaultLimit() int { return c.defaultLimit }

// Validate never fails: every problem is reported in the result.
func (c *Checker) Validate(text string) ValidationResult {
	result := ValidationResult{Errors: []ValidationError{}, Warnings: []ValidationWarning{}}
	if strings.TrimSpace(text) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Kind:       KindSyntax,
			Rule:       "empty",
			Message:    "query is empty",
			Severity:   SeverityCritical,
			Suggestion: "provide a SELECT statement",
		})
		return result
	}
	masked := maskLiterals(text)

	for _, rule := range c.dialectRules {
		if rule.matches(text, masked) {
			result.Errors = append(result.Errors, rule.validationError())
		}
	}

	keyword := FirstKeyword(text)
	if !allowedStatements[keyword] {
		if keyword == "" {
			keyword = "unknown"
		}
		result.Errors = append(result.Errors, ValidationError{
			Kind:       KindSecurity,
			Rule:       "statement_whitelist",
			Message:    "statement type " + keyword + " is not allowed; only SELECT, WITH, EXPLAIN, DESCRIBE and SHOW are permitted",
			Severity:   SeverityCritical,
			Suggestion: "rewrite the request as a read-only SELECT",
		})
	}

	if returnsRows(text) {
		if !hasTopLevelLimit(masked) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Kind:       KindPerformance,
				Message:    "query has no LIMIT clause",
				Suggestion: "add LIMIT " + strconv.Itoa(c.defaultLimit),
			})
		}
		if reSelectStar.MatchString(masked) {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Kind:       KindPerformance,
				Message:    "SELECT * returns every column",
				Suggestion: "select only the columns you need",
			})
		}
	}

	for _, rule := range c.securityRules {
		if rule.matches(text, masked) {
			result.Errors = append(result.Errors, rule.validationError())
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// Repair applies every rule rewriter in table order and then caps read
// statements that have no LIMIT. Repairing already repaired text yields no
// actions.
func (c *Checker) Repair(text string) RepairResult {
	result := RepairResult{RepairedText: text, Repairs: []RepairAction{}}
	if strings.TrimSpace(text) == "" {
		return result
	}
	current := text
	for _, rule := range c.dialectRules {
		if rule.Rewrite == nil {
			continue
		}
		next, actions := rule.Rewrite(current)
		if len(actions) == 0 {
			continue
		}
		current = next
		result.Repairs = append(result.Repairs, actions...)
	}

	if returnsRows(current) && !hasTopLevelLimit(maskLiterals(current)) {
		limit := "LIMIT " + strconv.Itoa(c.defaultLimit)
		current = appendLimit(current, limit)
		result.Repairs = append(result.Repairs, RepairAction{Kind: "limit", Original: "", Replacement: limit, Confidence: ConfidenceHigh})
	}

	result.RepairedText = current
	result.AppliedAny = len(result.Repairs) > 0
	return result
}
