package dialect

import (
	"regexp"
	"strings"
)

// maskLiterals blanks the contents of single-quoted literals with underscores
// so that pattern matching never sees operators inside strings. Byte offsets
// are preserved, which lets callers locate matches on the masked copy and
// splice the original text.
func maskLiterals(text string) string {
	b := []byte(text)
	in := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if !in {
			if c == '\'' {
				in = true
			}
			continue
		}
		switch c {
		case '\\':
			b[i] = '_'
			if i+1 < len(b) {
				i++
				b[i] = '_'
			}
		case '\'':
			if i+1 < len(b) && b[i+1] == '\'' {
				b[i], b[i+1] = '_', '_'
				i++
				continue
			}
			in = false
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isOperandByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == '$', c == '`', c == '"', c == '@', c == '?':
		return true
	}
	return c >= 0x80
}

func matchParen(masked string, open int) int {
	depth := 0
	for i := open; i < len(masked); i++ {
		switch masked[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func matchParenBack(masked string, close int) int {
	depth := 0
	for i := close; i >= 0; i-- {
		switch masked[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// operandStart returns where the operand ending at end begins: a literal, a
// (qualified or quoted) identifier, a placeholder, a parenthesized group or a
// function call.
func operandStart(masked string, end int) int {
	i := end
	for i > 0 && isSpace(masked[i-1]) {
		i--
	}
	if i > 0 && masked[i-1] == '\'' {
		j := strings.LastIndexByte(masked[:i-1], '\'')
		if j < 0 {
			return i
		}
		return j
	}
	for i > 0 {
		c := masked[i-1]
		if c == ')' {
			j := matchParenBack(masked, i-1)
			if j < 0 {
				break
			}
			i = j
			continue
		}
		if isOperandByte(c) {
			i--
			continue
		}
		break
	}
	for i < end && isSpace(masked[i]) {
		i++
	}
	return i
}

// operandEnd is the forward counterpart of operandStart.
func operandEnd(masked string, start int) int {
	i := start
	for i < len(masked) && isSpace(masked[i]) {
		i++
	}
	if i < len(masked) && masked[i] == '\'' {
		j := strings.IndexByte(masked[i+1:], '\'')
		if j < 0 {
			return len(masked)
		}
		return i + j + 2
	}
	for i < len(masked) {
		c := masked[i]
		if c == '(' {
			j := matchParen(masked, i)
			if j < 0 {
				return len(masked)
			}
			i = j + 1
			continue
		}
		if isOperandByte(c) {
			i++
			continue
		}
		break
	}
	return i
}

// splitArgs splits a call's argument list on top-level commas.
func splitArgs(text, masked string) []string {
	var out []string
	depth, last := 0, 0
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(text[last:i]))
				last = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(text[last:]))
}

type rewriteFunc func(args []string) (replacement string, confidence Confidence, ok bool)

// rewriteCalls replaces every call matched by re (which must end at the
// opening parenthesis) with the output of fn. Calls fn declines are left
// untouched.
func rewriteCalls(text, kind string, re *regexp.Regexp, fn rewriteFunc) (string, []RepairAction) {
	var actions []RepairAction
	from := 0
	for from < len(text) {
		masked := maskLiterals(text)
		loc := re.FindStringIndex(masked[from:])
		if loc == nil {
			break
		}
		start, open := from+loc[0], from+loc[1]-1
		closing := matchParen(masked, open)
		if closing < 0 {
			break
		}
		args := splitArgs(text[open+1:closing], masked[open+1:closing])
		replacement, confidence, ok := fn(args)
		if !ok {
			from = open + 1
			continue
		}
		original := text[start : closing+1]
		text = text[:start] + replacement + text[closing+1:]
		actions = append(actions, RepairAction{Kind: kind, Original: original, Replacement: replacement, Confidence: confidence})
		from = start + 1
	}
	return text, actions
}

// replaceMasked runs re over the masked copy of text and splices fn's
// replacement for each match into the original text.
func replaceMasked(text, kind string, confidence Confidence, re *regexp.Regexp, fn func(groups []string) string) (string, []RepairAction) {
	masked := maskLiterals(text)
	matches := re.FindAllStringSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return text, nil
	}
	var (
		b       strings.Builder
		actions []RepairAction
		last    int
	)
	for _, m := range matches {
		groups := make([]string, len(m)/2)
		for g := range groups {
			if m[2*g] >= 0 {
				groups[g] = text[m[2*g]:m[2*g+1]]
			}
		}
		replacement := fn(groups)
		b.WriteString(text[last:m[0]])
		b.WriteString(replacement)
		last = m[1]
		actions = append(actions, RepairAction{Kind: kind, Original: groups[0], Replacement: replacement, Confidence: confidence})
	}
	b.WriteString(text[last:])
	return b.String(), actions
}

func unquote(literal string) (string, bool) {
	literal = strings.TrimSpace(literal)
	if len(literal) < 2 || literal[0] != '\'' || literal[len(literal)-1] != '\'' {
		return "", false
	}
	return strings.ReplaceAll(literal[1:len(literal)-1], "''", "'"), true
}

var (
	reLimit        = regexp.MustCompile(`(?i)\bLIMIT\b`)
	reFirstKeyword = regexp.MustCompile(`^[\s(]*([A-Za-z]+)`)
	// EXPLAIN ANALYZE executes the statement it profiles.
	reExplainWrite = regexp.MustCompile(`(?i)^\s*(EXPLAIN|DESCRIBE|DESC)\s+(\w+\s*=\s*['"\w]+\s+)*(ANALYZE|INSERT|UPDATE|DELETE|REPLACE)\b`)
	reLockingTail  = regexp.MustCompile(`(?i)\s+(FOR\s+(UPDATE|SHARE)|LOCK\s+IN\s+SHARE\s+MODE)\b`)
)

// hasTopLevelLimit reports whether a LIMIT clause applies to the outermost
// statement rather than only to a subquery.
func hasTopLevelLimit(masked string) bool {
	for _, loc := range reLimit.FindAllStringIndex(masked, -1) {
		depth := strings.Count(masked[:loc[0]], "(") - strings.Count(masked[:loc[0]], ")")
		if depth <= 0 {
			return true
		}
	}
	return false
}

// FirstKeyword returns the upper-cased leading keyword of a statement.
func FirstKeyword(text string) string {
	m := reFirstKeyword.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

var allowedStatements = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"SHOW":     true,
}

// IsReadStatement reports whether text starts with a whitelisted read keyword
// and is not an EXPLAIN that analyzes or targets a write.
func IsReadStatement(text string) bool {
	return allowedStatements[FirstKeyword(text)] && !reExplainWrite.MatchString(maskLiterals(text))
}

// appendLimit adds limit to the outermost statement, ahead of a trailing
// locking clause, which MySQL requires to come last.
func appendLimit(text, limit string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(text), "; \t\n\r")
	masked := maskLiterals(trimmed)
	for _, loc := range reLockingTail.FindAllStringIndex(masked, -1) {
		depth := strings.Count(masked[:loc[0]], "(") - strings.Count(masked[:loc[0]], ")")
		if depth <= 0 {
			return trimmed[:loc[0]] + " " + limit + trimmed[loc[0]:]
		}
	}
	return trimmed + " " + limit
}

func returnsRows(text string) bool {
	switch FirstKeyword(text) {
	case "SELECT", "WITH":
		return true
	}
	return false
}
