package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reILikeDetect      = regexp.MustCompile(`(?i)\bILIKE\b`)
	reILike            = regexp.MustCompile(`(?i)\b(NOT\s+)?ILIKE\b`)
	reCastDetect       = regexp.MustCompile(`::`)
	reCastType         = regexp.MustCompile(`(?i)^\s*([a-z_][a-z0-9_]*(?:\s+precision|\s+varying|\s+with(?:out)?\s+time\s+zone)?)(\s*\(\s*\d+(?:\s*,\s*\d+)?\s*\))?(\[\])?`)
	rePlaceholder      = regexp.MustCompile(`\$(\d+)`)
	reAggDetect        = regexp.MustCompile(`(?i)\b(STRING_AGG|ARRAY_AGG)\s*\(`)
	reStringAgg        = regexp.MustCompile(`(?i)\bSTRING_AGG\s*\(`)
	reArrayAgg         = regexp.MustCompile(`(?i)\bARRAY_AGG\s*\(`)
	reOrderBy          = regexp.MustCompile(`(?i)\s+ORDER\s+BY\s+`)
	reDateDetect       = regexp.MustCompile(`(?i)\b(DATE_TRUNC|DATE_PART|TO_CHAR|TO_DATE|TO_TIMESTAMP)\s*\(`)
	reDateTrunc        = regexp.MustCompile(`(?i)\bDATE_TRUNC\s*\(`)
	reDatePart         = regexp.MustCompile(`(?i)\bDATE_PART\s*\(`)
	reToChar           = regexp.MustCompile(`(?i)\bTO_CHAR\s*\(`)
	reToDate           = regexp.MustCompile(`(?i)\b(TO_DATE|TO_TIMESTAMP)\s*\(`)
	reIntervalDetect   = regexp.MustCompile(`(?i)\bINTERVAL\s+'[^']*[a-z][^']*'`)
	reInterval         = regexp.MustCompile(`(?i)\bINTERVAL\s+'\s*(\d+)\s*(microsecond|second|minute|hour|day|week|month|quarter|year)s?\s*'`)
	reEpochDetect      = regexp.MustCompile(`(?i)\bEXTRACT\s*\(\s*EPOCH\b`)
	reExtract          = regexp.MustCompile(`(?i)\bEXTRACT\s*\(`)
	reEpochFrom        = regexp.MustCompile(`(?is)^EPOCH\s+FROM\s+(.+)$`)
	rePaginationDetect = regexp.MustCompile(`(?i)\bOFFSET\b|\bFETCH\s+(FIRST|NEXT)\b`)
	reLimitOffset      = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\s+OFFSET\s+(\d+)\b`)
	reOffsetLimit      = regexp.MustCompile(`(?i)\bOFFSET\s+(\d+)\s+LIMIT\s+(\d+)\b`)
	reOffsetFetch      = regexp.MustCompile(`(?i)\bOFFSET\s+(\d+)\s+ROWS?\s+FETCH\s+(?:FIRST|NEXT)\s+(\d+)\s+ROWS?\s+ONLY\b`)
	reFetchFirst       = regexp.MustCompile(`(?i)\bFETCH\s+(?:FIRST|NEXT)\s+(\d+)\s+ROWS?\s+ONLY\b`)
	reQuotedIdent      = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_$]*)"`)
	reValueContext     = regexp.MustCompile(`(?i)(=|<|>|\bLIKE|\bIN\s*\(|\bTHEN|\bELSE|\bWHEN)\s*$`)
	reComparedAhead    = regexp.MustCompile(`(?i)^\s*(=|<|>|!=|NOT\s+LIKE\b|LIKE\b|NOT\s+IN\b|IN\b|IS\b|BETWEEN\b)`)
	reConcatDetect     = regexp.MustCompile(`\|\|`)
)

func repairILike(text string) (string, []RepairAction) {
	var actions []RepairAction
	for {
		masked := maskLiterals(text)
		loc := reILike.FindStringSubmatchIndex(masked)
		if loc == nil {
			break
		}
		left := operandStart(masked, loc[0])
		right := operandEnd(masked, loc[1])
		if left == loc[0] || right == loc[1] {
			break
		}
		not := ""
		if loc[2] >= 0 {
			not = "NOT "
		}
		lhs := strings.TrimSpace(text[left:loc[0]])
		rhs := strings.TrimSpace(text[loc[1]:right])
		replacement := fmt.Sprintf("LOWER(%s) %sLIKE LOWER(%s)", lhs, not, rhs)
		actions = append(actions, RepairAction{Kind: "ilike", Original: text[left:right], Replacement: replacement, Confidence: ConfidenceHigh})
		text = text[:left] + replacement + text[right:]
	}
	return text, actions
}

func repairCasts(text string) (string, []RepairAction) {
	var actions []RepairAction
	for {
		masked := maskLiterals(text)
		idx := strings.Index(masked, "::")
		if idx < 0 {
			break
		}
		start := operandStart(masked, idx)
		m := reCastType.FindStringSubmatchIndex(masked[idx+2:])
		if start == idx || m == nil {
			break
		}
		end := idx + 2 + m[1]
		typeName := text[idx+2+m[2] : idx+2+m[3]]
		params := ""
		if m[4] >= 0 {
			params = strings.ReplaceAll(text[idx+2+m[4]:idx+2+m[5]], " ", "")
		}
		target, confidence := mapCastType(typeName, params)
		replacement := fmt.Sprintf("CAST(%s AS %s)", strings.TrimSpace(text[start:idx]), target)
		actions = append(actions, RepairAction{Kind: "cast", Original: text[start:end], Replacement: replacement, Confidence: confidence})
		text = text[:start] + replacement + text[end:]
	}
	return text, actions
}

var castTypes = map[string]string{
	"int": "SIGNED", "int2": "SIGNED", "int4": "SIGNED", "int8": "SIGNED",
	"integer": "SIGNED", "smallint": "SIGNED", "bigint": "SIGNED",
	"text": "CHAR", "varchar": "CHAR", "character varying": "CHAR", "char": "CHAR",
	"character": "CHAR", "uuid": "CHAR", "citext": "CHAR", "name": "CHAR",
	"numeric": "DECIMAL", "decimal": "DECIMAL",
	"timestamp": "DATETIME", "timestamptz": "DATETIME",
	"timestamp with time zone": "DATETIME", "timestamp without time zone": "DATETIME",
	"date": "DATE", "time": "TIME",
	"float": "DOUBLE", "float4": "DOUBLE", "float8": "DOUBLE", "real": "DOUBLE",
	"double": "DOUBLE", "double precision": "DOUBLE",
	"json": "JSON", "jsonb": "JSON",
	"bool": "UNSIGNED", "boolean": "UNSIGNED",
}

func mapCastType(name, params string) (string, Confidence) {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	target, ok := castTypes[key]
	if !ok {
		return "CHAR", ConfidenceLow
	}
	switch target {
	case "CHAR", "DECIMAL":
		return target + params, ConfidenceHigh
	}
	return target, ConfidenceHigh
}

func repairPlaceholders(text string) (string, []RepairAction) {
	masked := maskLiterals(text)
	matches := rePlaceholder.FindAllStringSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return text, nil
	}
	confidence := ConfidenceHigh
	originals := make([]string, 0, len(matches))
	var b strings.Builder
	last := 0
	for i, m := range matches {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		if n != i+1 {
			confidence = ConfidenceMedium
		}
		originals = append(originals, text[m[0]:m[1]])
		b.WriteString(text[last:m[0]])
		b.WriteByte('?')
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String(), []RepairAction{{
		Kind:        "placeholders",
		Original:    strings.Join(originals, ", "),
		Replacement: strings.TrimSuffix(strings.Repeat("?, ", len(matches)), ", "),
		Confidence:  confidence,
	}}
}

func repairAggregations(text string) (string, []RepairAction) {
	text, actions := rewriteCalls(text, "aggregation", reStringAgg, func(args []string) (string, Confidence, bool) {
		if len(args) != 2 {
			return "", "", false
		}
		expr, sep := args[0], args[1]
		order := ""
		if loc := reOrderBy.FindStringIndex(maskLiterals(sep)); loc != nil {
			order = " ORDER BY " + strings.TrimSpace(sep[loc[1]:])
			sep = strings.TrimSpace(sep[:loc[0]])
		}
		return fmt.Sprintf("GROUP_CONCAT(%s%s SEPARATOR %s)", expr, order, sep), ConfidenceHigh, true
	})
	text, more := rewriteCalls(text, "aggregation", reArrayAgg, func(args []string) (string, Confidence, bool) {
		if len(args) != 1 {
			return "", "", false
		}
		expr, confidence := args[0], ConfidenceHigh
		if loc := reOrderBy.FindStringIndex(maskLiterals(expr)); loc != nil {
			expr, confidence = strings.TrimSpace(expr[:loc[0]]), ConfidenceMedium
		}
		return fmt.Sprintf("JSON_ARRAYAGG(%s)", expr), confidence, true
	})
	return text, append(actions, more...)
}

var truncFormats = map[string]string{
	"second": "'%Y-%m-%d %H:%i:%s'",
	"minute": "'%Y-%m-%d %H:%i:00'",
	"hour":   "'%Y-%m-%d %H:00:00'",
	"day":    "'%Y-%m-%d 00:00:00'",
	"month":  "'%Y-%m-01 00:00:00'",
	"year":   "'%Y-01-01 00:00:00'",
}

var extractUnits = map[string]string{
	"microseconds": "MICROSECOND", "second": "SECOND", "minute": "MINUTE", "hour": "HOUR",
	"day": "DAY", "week": "WEEK", "month": "MONTH", "quarter": "QUARTER", "year": "YEAR",
}

func repairDateFunctions(text string) (string, []RepairAction) {
	var all []RepairAction
	text, actions := rewriteCalls(text, "date_function", reDateTrunc, func(args []string) (string, Confidence, bool) {
		if len(args) != 2 {
			return "", "", false
		}
		unit, ok := unquote(args[0])
		if !ok {
			return "", "", false
		}
		expr := args[1]
		switch unit = strings.ToLower(strings.TrimSpace(unit)); unit {
		case "week":
			return fmt.Sprintf("DATE_SUB(DATE(%s), INTERVAL WEEKDAY(%s) DAY)", expr, expr), ConfidenceHigh, true
		case "quarter":
			return fmt.Sprintf("DATE_ADD(MAKEDATE(YEAR(%s), 1), INTERVAL (QUARTER(%s) - 1) QUARTER)", expr, expr), ConfidenceHigh, true
		}
		format, ok := truncFormats[unit]
		if !ok {
			return "", "", false
		}
		return fmt.Sprintf("DATE_FORMAT(%s, %s)", expr, format), ConfidenceHigh, true
	})
	all = append(all, actions...)

	text, actions = rewriteCalls(text, "date_function", reDatePart, func(args []string) (string, Confidence, bool) {
		if len(args) != 2 {
			return "", "", false
		}
		unit, ok := unquote(args[0])
		if !ok {
			return "", "", false
		}
		switch unit = strings.ToLower(strings.TrimSpace(unit)); unit {
		case "dow":
			return fmt.Sprintf("(DAYOFWEEK(%s) - 1)", args[1]), ConfidenceHigh, true
		case "doy":
			return fmt.Sprintf("DAYOFYEAR(%s)", args[1]), ConfidenceHigh, true
		}
		mapped, ok := extractUnits[unit]
		if !ok {
			return "", "", false
		}
		return fmt.Sprintf("EXTRACT(%s FROM %s)", mapped, args[1]), ConfidenceHigh, true
	})
	all = append(all, actions...)

	text, actions = rewriteCalls(text, "date_function", reToChar, func(args []string) (string, Confidence, bool) {
		if len(args) != 2 {
			return "", "", false
		}
		format, ok := unquote(args[1])
		if !ok {
			return "", "", false
		}
		mapped, ok := mapDateFormat(format)
		if !ok {
			return "", "", false
		}
		return fmt.Sprintf("DATE_FORMAT(%s, %s)", args[0], quote(mapped)), ConfidenceHigh, true
	})
	all = append(all, actions...)

	text, actions = rewriteCalls(text, "date_function", reToDate, func(args []string) (string, Confidence, bool) {
		switch len(args) {
		case 1:
			return fmt.Sprintf("FROM_UNIXTIME(%s)", args[0]), ConfidenceHigh, true
		case 2:
			format, ok := unquote(args[1])
			if !ok {
				return "", "", false
			}
			mapped, ok := mapDateFormat(format)
			if !ok {
				return "", "", false
			}
			return fmt.Sprintf("STR_TO_DATE(%s, %s)", args[0], quote(mapped)), ConfidenceHigh, true
		}
		return "", "", false
	})
	return text, append(all, actions...)
}

var formatTokens = []struct{ from, to string }{
	{"HH24", "%H"}, {"HH12", "%h"}, {"YYYY", "%Y"}, {"MONTH", "%M"}, {"MON", "%b"},
	{"DAY", "%W"}, {"MI", "%i"}, {"SS", "%s"}, {"MS", "%f"}, {"YY", "%y"},
	{"MM", "%m"}, {"DD", "%d"}, {"DY", "%a"}, {"HH", "%h"}, {"AM", "%p"}, {"PM", "%p"},
}

// mapDateFormat converts a to_char style template into DATE_FORMAT
// specifiers. Numeric templates (9, 0) have no date equivalent.
func mapDateFormat(format string) (string, bool) {
	if strings.ContainsAny(format, "90") && !strings.ContainsAny(strings.ToUpper(format), "YMDHS") {
		return "", false
	}
	var b strings.Builder
	upper := strings.ToUpper(format)
	for i := 0; i < len(format); {
		matched := false
		for _, token := range formatTokens {
			if strings.HasPrefix(upper[i:], token.from) {
				b.WriteString(token.to)
				i += len(token.from)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if format[i] == '%' {
			b.WriteString("%%")
		} else {
			b.WriteByte(format[i])
		}
		i++
	}
	return b.String(), true
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func repairIntervals(text string) (string, []RepairAction) {
	masked := maskLiterals(text)
	matches := reInterval.FindAllStringSubmatchIndex(text, -1)
	var (
		b       strings.Builder
		actions []RepairAction
		last    int
	)
	for _, m := range matches {
		if masked[m[0]] != text[m[0]] {
			continue
		}
		replacement := fmt.Sprintf("INTERVAL %s %s", text[m[2]:m[3]], strings.ToUpper(text[m[4]:m[5]]))
		b.WriteString(text[last:m[0]])
		b.WriteString(replacement)
		last = m[1]
		actions = append(actions, RepairAction{Kind: "interval", Original: text[m[0]:m[1]], Replacement: replacement, Confidence: ConfidenceHigh})
	}
	if len(actions) == 0 {
		return text, nil
	}
	b.WriteString(text[last:])
	return b.String(), actions
}

func repairEpoch(text string) (string, []RepairAction) {
	text, actions := rewriteCalls(text, "epoch", reExtract, func(args []string) (string, Confidence, bool) {
		if len(args) != 1 {
			return "", "", false
		}
		m := reEpochFrom.FindStringSubmatch(args[0])
		if m == nil {
			return "", "", false
		}
		return fmt.Sprintf("UNIX_TIMESTAMP(%s)", strings.TrimSpace(m[1])), ConfidenceHigh, true
	})
	text, more := rewriteCalls(text, "epoch", reDatePart, func(args []string) (string, Confidence, bool) {
		if len(args) != 2 {
			return "", "", false
		}
		unit, ok := unquote(args[0])
		if !ok || !strings.EqualFold(strings.TrimSpace(unit), "epoch") {
			return "", "", false
		}
		return fmt.Sprintf("UNIX_TIMESTAMP(%s)", args[1]), ConfidenceHigh, true
	})
	return text, append(actions, more...)
}

// repairPagination rewrites foreign pagination into MySQL's
// LIMIT offset, count form.
func repairPagination(text string) (string, []RepairAction) {
	var all []RepairAction
	text, actions := replaceMasked(text, "pagination", ConfidenceHigh, reOffsetFetch, func(g []string) string {
		return fmt.Sprintf("LIMIT %s, %s", g[1], g[2])
	})
	all = append(all, actions...)
	text, actions = replaceMasked(text, "pagination", ConfidenceHigh, reFetchFirst, func(g []string) string {
		return "LIMIT " + g[1]
	})
	all = append(all, actions...)
	text, actions = replaceMasked(text, "pagination", ConfidenceHigh, reLimitOffset, func(g []string) string {
		return fmt.Sprintf("LIMIT %s, %s", g[2], g[1])
	})
	all = append(all, actions...)
	text, actions = replaceMasked(text, "pagination", ConfidenceHigh, reOffsetLimit, func(g []string) string {
		return fmt.Sprintf("LIMIT %s, %s", g[1], g[2])
	})
	return text, append(all, actions...)
}

// quotedIdentifiers returns the offsets of double-quoted names that sit in
// identifier position. Quoted values on the right of a comparison or after
// THEN/ELSE stay strings. A name that is itself compared, as in
// CASE WHEN "status" = 'a', is an identifier.
func quotedIdentifiers(masked string) [][]int {
	var out [][]int
	for _, loc := range reQuotedIdent.FindAllStringSubmatchIndex(masked, -1) {
		if reValueContext.MatchString(masked[:loc[0]]) && !reComparedAhead.MatchString(masked[loc[1]:]) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

func repairQuotedIdentifiers(text string) (string, []RepairAction) {
	locs := quotedIdentifiers(maskLiterals(text))
	if len(locs) == 0 {
		return text, nil
	}
	var (
		b       strings.Builder
		actions []RepairAction
		last    int
	)
	for _, loc := range locs {
		replacement := "`" + text[loc[2]:loc[3]] + "`"
		b.WriteString(text[last:loc[0]])
		b.WriteString(replacement)
		last = loc[1]
		actions = append(actions, RepairAction{Kind: "identifier_quoting", Original: text[loc[0]:loc[1]], Replacement: replacement, Confidence: ConfidenceMedium})
	}
	b.WriteString(text[last:])
	return b.String(), actions
}

// repairConcatenation folds a || b || c chains into CONCAT(a, b, c),
// matching operands pairwise around each operator.
func repairConcatenation(text string) (string, []RepairAction) {
	var actions []RepairAction
	for {
		masked := maskLiterals(text)
		idx := strings.Index(masked, "||")
		if idx < 0 {
			break
		}
		start := operandStart(masked, idx)
		if start == idx {
			break
		}
		operands := []string{strings.TrimSpace(text[start:idx])}
		pos := idx
		for {
			end := operandEnd(masked, pos+2)
			operand := strings.TrimSpace(text[pos+2 : end])
			if operand == "" {
				break
			}
			operands = append(operands, operand)
			next := end
			for next < len(masked) && isSpace(masked[next]) {
				next++
			}
			if !strings.HasPrefix(masked[next:], "||") {
				pos = end
				break
			}
			pos = next
		}
		if len(operands) < 2 {
			break
		}
		replacement := "CONCAT(" + strings.Join(operands, ", ") + ")"
		actions = append(actions, RepairAction{Kind: "concatenation", Original: text[start:pos], Replacement: replacement, Confidence: ConfidenceMedium})
		text = text[:start] + replacement + text[pos:]
	}
	return text, actions
}
