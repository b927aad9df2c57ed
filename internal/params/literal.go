package params

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reInt  = regexp.MustCompile(`^[+-]?\d+$`)
	reNum  = regexp.MustCompile(`^[+-]?(\d+\.\d*|\.\d+|\d+(\.\d*)?[eE][+-]?\d+)$`)
	reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// literal is a parsed Python-style literal.
type literal struct {
	value  any
	quoted bool
}

// parseLiteral understands quoted strings, ints, floats, True/False and None.
// Anything else is returned as its source text with ok=false.
func parseLiteral(s string) (literal, bool) {
	s = strings.TrimSpace(s)
	if str, ok := unquote(s); ok {
		return literal{value: str, quoted: true}, true
	}
	switch s {
	case "True", "true":
		return literal{value: true}, true
	case "False", "false":
		return literal{value: false}, true
	case "None":
		return literal{value: nil}, true
	}
	if reInt.MatchString(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return literal{value: n}, true
		}
	}
	if reNum.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return literal{value: f}, true
		}
	}
	return literal{value: s}, false
}

// unquote strips matching single or double quotes and resolves backslash escapes
// of the quote character and backslash itself.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return "", false
	}
	body := s[1 : len(s)-1]
	if !strings.ContainsRune(body, '\\') {
		if strings.IndexByte(body, q) >= 0 {
			return "", false
		}
		return body, true
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			i++
			b.WriteByte(body[i])
			continue
		}
		if c == q {
			return "", false
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

// classify infers a parameter kind from a literal. Quoted strings that spell
// a number or boolean count as that type, since environment defaults are
// always strings.
func classify(lit literal) (kind string, value any) {
	switch v := lit.value.(type) {
	case bool:
		return "boolean", v
	case int64:
		return "integer", v
	case float64:
		return "number", v
	case nil:
		return "text", nil
	case string:
		if !lit.quoted {
			return "text", v
		}
		switch strings.ToLower(v) {
		case "true":
			return "boolean", true
		case "false":
			return "boolean", false
		}
		if reInt.MatchString(v) {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return "integer", n
			}
		}
		if reNum.MatchString(v) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return "number", f
			}
		}
		if reDate.MatchString(v) {
			return "date", v
		}
		return "text", v
	}
	return "text", lit.value
}

// splitComment splits a line into code and the text of its trailing comment.
// A '#' inside a string literal does not start a comment.
func splitComment(line string) (code, comment string, ok bool) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return line[:i], strings.TrimSpace(line[i+1:]), true
		}
	}
	return line, "", false
}

// splitTopLevel splits s on sep, ignoring separators inside quotes, brackets and braces.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		quote byte
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '{' || c == '(':
			depth++
		case c == ']' || c == '}' || c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// closing returns the index of the bracket closing the one at s[0], or -1.
func closing(s string) int {
	if s == "" {
		return -1
	}
	open := s[0]
	var close byte
	switch open {
	case '[':
		close = ']'
	case '{':
		close = '}'
	default:
		return -1
	}
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
