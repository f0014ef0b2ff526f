package template

import (
	"regexp"
	"strings"
)

// translateJinja rewrites a Jinja-flavored template into the Go
// text/template dialect: "{% ... %}" control tags become "{{ ... }}"
// actions, "{# ... #}" comments are stripped, and "{{ expr | filter(arg)
// }}" pipelines become "{{ filter expr arg }}" function-call form.
func translateJinja(src string) (string, error) {
	src = commentPattern.ReplaceAllString(src, "")

	src = controlTagPattern.ReplaceAllStringFunc(src, func(tag string) string {
		inner := strings.TrimSpace(tag[2 : len(tag)-2])
		return "{{" + translateControlTag(inner) + "}}"
	})

	src = exprTagPattern.ReplaceAllStringFunc(src, func(tag string) string {
		inner := strings.TrimSpace(tag[2 : len(tag)-2])
		return "{{" + translatePipeline(inner) + "}}"
	})

	return src, nil
}

var (
	commentPattern    = regexp.MustCompile(`\{#.*?#\}`)
	controlTagPattern = regexp.MustCompile(`\{%.*?%\}`)
	exprTagPattern    = regexp.MustCompile(`\{\{.*?\}\}`)
)

// translateControlTag maps Jinja's block keywords onto Go template
// actions: if/elif/else/endif, for/endfor.
func translateControlTag(inner string) string {
	fields := strings.Fields(inner)
	if len(fields) == 0 {
		return ""
	}

	switch fields[0] {
	case "if":
		return " if " + translateExpr(strings.TrimSpace(strings.TrimPrefix(inner, "if"))) + " "
	case "elif":
		return " else if " + translateExpr(strings.TrimSpace(strings.TrimPrefix(inner, "elif"))) + " "
	case "else":
		return " else "
	case "endif":
		return " end "
	case "for":
		// "for item in items" -> "range $item := .items"
		rest := strings.TrimSpace(strings.TrimPrefix(inner, "for"))
		parts := strings.SplitN(rest, " in ", 2)
		if len(parts) == 2 {
			loopVar := strings.TrimSpace(parts[0])
			collection := translateExpr(strings.TrimSpace(parts[1]))
			return " range $" + loopVar + " := " + collection + " "
		}
		return " range " + translateExpr(rest) + " "
	case "endfor":
		return " end "
	default:
		return " " + inner + " "
	}
}

// translatePipeline rewrites a Jinja "value | filter1 | filter2(arg)"
// expression into Go template function-call nesting:
// "filter2 (filter1 value) arg".
func translatePipeline(expr string) string {
	segments := splitTopLevel(expr, '|')
	if len(segments) == 1 {
		return translateExpr(strings.TrimSpace(segments[0]))
	}

	result := translateExpr(strings.TrimSpace(segments[0]))
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		name, args := splitFilterCall(seg)
		call := "(" + name + " " + result
		for _, a := range args {
			call += " " + translateExpr(strings.TrimSpace(a))
		}
		call += ")"
		result = call
	}
	return result
}

// splitFilterCall separates "filtername(arg1, arg2)" or bare "filtername"
// into the filter name and its argument expressions.
func splitFilterCall(seg string) (string, []string) {
	open := strings.Index(seg, "(")
	if open == -1 || !strings.HasSuffix(seg, ")") {
		return seg, nil
	}
	name := seg[:open]
	argStr := seg[open+1 : len(seg)-1]
	if strings.TrimSpace(argStr) == "" {
		return name, nil
	}
	return name, splitTopLevel(argStr, ',')
}

// splitTopLevel splits s on sep, ignoring occurrences inside quotes or
// parentheses.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// translateExpr rewrites a bare variable or dotted path reference
// ("foo.bar") into Go template field syntax (".foo.bar"), leaving
// literals, comparisons, and already-dotted expressions untouched.
func translateExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return expr
	}
	if strings.HasPrefix(expr, ".") || strings.HasPrefix(expr, "$") {
		return expr
	}
	if strings.HasPrefix(expr, "'") || strings.HasPrefix(expr, "\"") {
		return expr
	}
	if isNumeric(expr) || expr == "true" || expr == "false" || expr == "nil" {
		return expr
	}
	if containsOperator(expr) {
		return expr
	}
	if isIdentifierPath(expr) {
		return "." + expr
	}
	return expr
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func containsOperator(s string) bool {
	for _, op := range []string{"==", "!=", "<=", ">=", " and ", " or ", " not ", "<", ">", "(", ")"} {
		if strings.Contains(s, op) {
			return true
		}
	}
	return false
}

func isIdentifierPath(s string) bool {
	for _, c := range s {
		if c == '_' || c == '.' || c == '[' || c == ']' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return len(s) > 0
}
