package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/crucial707/juport/internal/models"
)

// Inject rewrites code so that declared parameters take the given values:
// the value of every `name = ...  # @param` assignment and every environment
// read whose variable (or assignment target) has a value. Lines without a
// matching value are left untouched.
func Inject(code string, values map[string]any) string {
	if len(values) == 0 {
		return code
	}
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		body, comment, hasComment := splitComment(line)

		if hasComment && strings.HasPrefix(comment, marker) {
			if m := reAssign.FindStringSubmatch(body); m != nil {
				if v, ok := values[m[1]]; ok {
					indent := body[:len(body)-len(strings.TrimLeft(body, " \t"))]
					lit := injectLiteral(m[2], strings.TrimPrefix(comment, marker), v)
					lines[i] = fmt.Sprintf("%s%s = %s  # %s", indent, m[1], lit, comment)
					continue
				}
			}
		}

		assigned := ""
		if m := reAssign.FindStringSubmatch(body); m != nil {
			assigned = m[1]
		}
		rewritten := reEnvCall.ReplaceAllStringFunc(body, func(call string) string {
			sub := reEnvCall.FindStringSubmatch(call)
			envName := sub[1] + sub[2]
			if v, ok := values[envName]; ok {
				return strconv.Quote(EnvString(v))
			}
			if v, ok := values[assigned]; ok && assigned != "" {
				return strconv.Quote(EnvString(v))
			}
			return call
		})
		if rewritten != body {
			if hasComment {
				rewritten += "# " + comment
			}
			lines[i] = rewritten
		}
	}
	return strings.Join(lines, "\n")
}

// injectLiteral formats v for an annotated assignment. Values are written
// bare only when the annotation declares a numeric, boolean, slider or raw
// type, or when it declares nothing and the current value is itself a bare
// literal. Text, date and dropdown values are always quoted.
func injectLiteral(valueSrc, rest string, v any) string {
	if v == nil {
		return "None"
	}
	a, err := parseAnnotation(rest)
	if err != nil {
		return strconv.Quote(EnvString(v))
	}
	typ, hasType := a.str("type")
	typ = strings.ToLower(typ)
	if typ == models.KindRaw {
		if s, ok := v.(string); ok {
			return s
		}
		return PythonLiteral(v)
	}
	if a.hasOptions {
		return strconv.Quote(EnvString(v))
	}
	if !hasType {
		lit, _ := parseLiteral(valueSrc)
		if _, isStr := lit.value.(string); isStr {
			return strconv.Quote(EnvString(v))
		}
		return PythonLiteral(v)
	}
	switch typ {
	case models.KindNumber, models.KindInteger, models.KindSlider, models.KindBoolean:
		return PythonLiteral(v)
	}
	return strconv.Quote(EnvString(v))
}

// PythonLiteral formats a value as Python source. Strings that spell a
// boolean, None or a number are emitted unquoted; dates and integers with a
// leading zero stay strings.
func PythonLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case string:
		switch strings.ToLower(x) {
		case "true":
			return "True"
		case "false":
			return "False"
		case "none":
			return "None"
		}
		if reDate.MatchString(x) || leadingZero(x) {
			return strconv.Quote(x)
		}
		if reInt.MatchString(x) || reNum.MatchString(x) {
			return x
		}
		return strconv.Quote(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return strconv.Quote(fmt.Sprint(x))
		}
		return strconv.Quote(string(b))
	}
}

// leadingZero reports an integer like "00501" that Python rejects as a literal.
func leadingZero(s string) bool {
	if !reInt.MatchString(s) {
		return false
	}
	digits := strings.TrimLeft(s, "+-")
	return len(digits) > 1 && digits[0] == '0'
}

// EnvString is the string an environment variable carries for v.
func EnvString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool, int, int64, json.Number:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
