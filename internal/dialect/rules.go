package dialect

import "regexp"

// Rule is one entry of the mismatch catalog. Validation reports every rule
// whose matcher fires; repair runs the rewriter of every rule that has one,
// in table order.
type Rule struct {
	Name       string
	Kind       ErrorKind
	Severity   Severity
	Message    string
	Suggestion string

	// Pattern is matched against the literal-masked text. Match overrides it
	// for rules that need to look inside literals.
	Pattern *regexp.Regexp
	Match   func(text, masked string) bool

	Rewrite func(text string) (string, []RepairAction)
}

func (r Rule) matches(text, masked string) bool {
	if r.Match != nil {
		return r.Match(text, masked)
	}
	return r.Pattern != nil && r.Pattern.MatchString(masked)
}

func (r Rule) validationError() ValidationError {
	return ValidationError{Kind: r.Kind, Rule: r.Name, Message: r.Message, Severity: r.Severity, Suggestion: r.Suggestion}
}

func dialectRule(name, message, suggestion string, pattern *regexp.Regexp, rewrite func(string) (string, []RepairAction)) Rule {
	return Rule{
		Name:       name,
		Kind:       KindDialect,
		Severity:   SeverityHigh,
		Message:    message,
		Suggestion: suggestion,
		Pattern:    pattern,
		Rewrite:    rewrite,
	}
}

func securityRule(name, message, suggestion string, pattern *regexp.Regexp) Rule {
	return Rule{
		Name:       name,
		Kind:       KindSecurity,
		Severity:   SeverityCritical,
		Message:    message,
		Suggestion: suggestion,
		Pattern:    pattern,
	}
}

// DialectRules is the ordered catalog of foreign-dialect mismatches.
// Repair applies rewriters in this order. Casts go first so that later
// operand scans see CAST(...) rather than a bare type name.
func DialectRules() []Rule {
	intervalRule := dialectRule("interval_literal",
		"interval literal with the unit inside the string is not MySQL syntax",
		"write INTERVAL 7 DAY instead of INTERVAL '7 days'",
		nil, repairIntervals)
	intervalRule.Match = func(text, masked string) bool {
		return matchOutsideLiterals(reIntervalDetect, text, masked)
	}

	quotedRule := dialectRule("quoted_identifier",
		"double-quoted identifiers are string literals in MySQL",
		"quote identifiers with backticks",
		nil, repairQuotedIdentifiers)
	quotedRule.Match = func(_, masked string) bool {
		return len(quotedIdentifiers(masked)) > 0
	}

	return []Rule{
		dialectRule("cast_operator",
			"the :: cast operator is not supported by MySQL",
			"use CAST(expr AS type)",
			reCastDetect, repairCasts),
		dialectRule("ilike",
			"ILIKE is not supported by MySQL",
			"use LOWER(column) LIKE LOWER(pattern)",
			reILikeDetect, repairILike),
		dialectRule("numbered_placeholder",
			"numbered placeholders ($1, $2) are not supported by MySQL",
			"use positional ? placeholders",
			rePlaceholder, repairPlaceholders),
		dialectRule("aggregation",
			"STRING_AGG/ARRAY_AGG are not MySQL aggregate functions",
			"use GROUP_CONCAT(expr SEPARATOR sep) or JSON_ARRAYAGG(expr)",
			reAggDetect, repairAggregations),
		dialectRule("date_function",
			"DATE_TRUNC/DATE_PART/TO_CHAR/TO_DATE/TO_TIMESTAMP are not MySQL functions",
			"use DATE_FORMAT, EXTRACT, STR_TO_DATE or FROM_UNIXTIME",
			reDateDetect, repairDateFunctions),
		intervalRule,
		dialectRule("epoch",
			"EXTRACT(EPOCH FROM ...) is not supported by MySQL",
			"use UNIX_TIMESTAMP(expr)",
			reEpochDetect, repairEpoch),
		dialectRule("pagination",
			"OFFSET/FETCH pagination is not the MySQL form",
			"use LIMIT offset, count",
			rePaginationDetect, repairPagination),
		quotedRule,
		dialectRule("concatenation",
			"|| is logical OR in MySQL, not string concatenation",
			"use CONCAT(a, b)",
			reConcatDetect, repairConcatenation),
		dialectRule("distinct_on",
			"DISTINCT ON is not supported by MySQL",
			"use ROW_NUMBER() OVER (PARTITION BY ... ORDER BY ...) in a subquery",
			regexp.MustCompile(`(?i)\bDISTINCT\s+ON\s*\(`), nil),
		dialectRule("aggregate_filter",
			"aggregate FILTER (WHERE ...) is not supported by MySQL",
			"use SUM(CASE WHEN ... THEN 1 ELSE 0 END) or COUNT(CASE WHEN ... END)",
			regexp.MustCompile(`(?i)\bFILTER\s*\(\s*WHERE\b`), nil),
		dialectRule("nulls_ordering",
			"NULLS FIRST/LAST is not supported by MySQL",
			"order by (expr IS NULL) before the column instead",
			regexp.MustCompile(`(?i)\bNULLS\s+(FIRST|LAST)\b`), nil),
		dialectRule("generate_series",
			"GENERATE_SERIES is not a MySQL function",
			"use a recursive CTE to produce a series",
			regexp.MustCompile(`(?i)\bGENERATE_SERIES\s*\(`), nil),
		dialectRule("returning",
			"RETURNING is not supported by MySQL",
			"select the affected rows in a separate read",
			regexp.MustCompile(`(?i)\bRETURNING\b`), nil),
	}
}

var writeVerbs = `INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|REPLACE|RENAME|GRANT|REVOKE|MERGE|CALL|SET|LOCK|UNLOCK|HANDLER|LOAD|DO`

var (
	reChainedWrite = regexp.MustCompile(`(?i);\s*(` + writeVerbs + `)\b`)
	reMultiStmt    = regexp.MustCompile(`;\s*\S`)
)

// SecurityRules flags statement shapes that must never reach the store.
// They have no rewriters: repair touches syntax, never safety.
func SecurityRules() []Rule {
	multi := securityRule("multiple_statements",
		"multiple statements in one request are not allowed",
		"send a single statement",
		nil)
	multi.Match = func(_, masked string) bool {
		return reMultiStmt.MatchString(masked) && !reChainedWrite.MatchString(masked)
	}
	return []Rule{
		securityRule("chained_write",
			"statement chaining into a write statement",
			"remove everything after the first statement",
			reChainedWrite),
		multi,
		securityRule("comment",
			"SQL comments can hide injected statements",
			"remove -- , # and /* */ comments",
			regexp.MustCompile(`--|/\*|\*/|#`)),
		securityRule("explain_write",
			"EXPLAIN ANALYZE and EXPLAIN of a write statement are not allowed",
			"explain a SELECT without ANALYZE",
			reExplainWrite),
		securityRule("cte_write",
			"common table expression feeding a write statement",
			"only read statements are allowed",
			regexp.MustCompile(`(?is)^\s*WITH\b.*\)\s*(INSERT|UPDATE|DELETE|REPLACE)\b`)),
		securityRule("file_access",
			"file access (INTO OUTFILE/DUMPFILE, LOAD_FILE) is not allowed",
			"return rows to the caller instead",
			regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b|\bLOAD_FILE\s*\(`)),
		securityRule("timing",
			"SLEEP/BENCHMARK calls are not allowed",
			"remove the timing function",
			regexp.MustCompile(`(?i)\b(SLEEP|BENCHMARK)\s*\(`)),
	}
}

func matchOutsideLiterals(re *regexp.Regexp, text, masked string) bool {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if masked[loc[0]] == text[loc[0]] {
			return true
		}
	}
	return false
}
