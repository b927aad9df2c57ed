package params

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var reMetaKey = regexp.MustCompile(`^[A-Za-z_][\w-]*$`)

// annotation is the parsed text following an "@param" marker.
type annotation struct {
	options    []string // raw option items, nil when no option list was given
	meta       map[string]literal
	hasOptions bool
}

// parseAnnotation parses `[options] {metadata}`; both parts are optional.
func parseAnnotation(rest string) (annotation, error) {
	var a annotation
	rest = strings.TrimSpace(rest)

	if strings.HasPrefix(rest, "[") {
		end := closing(rest)
		if end < 0 {
			return a, errors.New("unterminated option list")
		}
		a.hasOptions = true
		for _, item := range splitTopLevel(rest[1:end], ',') {
			if item = strings.TrimSpace(item); item != "" {
				a.options = append(a.options, item)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "{") {
		end := closing(rest)
		if end < 0 {
			return a, errors.New("unterminated metadata")
		}
		meta, err := parseMeta(rest[1:end])
		if err != nil {
			return a, err
		}
		a.meta = meta
		rest = strings.TrimSpace(rest[end+1:])
	}

	if rest != "" {
		return a, fmt.Errorf("unexpected text %q after annotation", rest)
	}
	return a, nil
}

// parseMeta parses a permissive `key: value, key: value` list. Keys may be bare
// or quoted; values may be quoted strings, numbers, booleans or bare words.
func parseMeta(s string) (map[string]literal, error) {
	meta := make(map[string]literal)
	if strings.TrimSpace(s) == "" {
		return meta, nil
	}
	for _, pair := range splitTopLevel(s, ',') {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := splitTopLevel(pair, ':')
		if len(kv) < 2 {
			return nil, fmt.Errorf("metadata entry %q has no value", pair)
		}
		key := strings.TrimSpace(kv[0])
		if k, ok := unquote(key); ok {
			key = k
		}
		if !reMetaKey.MatchString(key) {
			return nil, fmt.Errorf("invalid metadata key %q", key)
		}
		raw := strings.TrimSpace(strings.Join(kv[1:], ":"))
		if raw == "" {
			return nil, fmt.Errorf("metadata key %q has empty value", key)
		}
		lit, _ := parseLiteral(raw)
		meta[strings.ToLower(key)] = lit
	}
	return meta, nil
}

func (a annotation) str(key string) (string, bool) {
	lit, ok := a.meta[key]
	if !ok {
		return "", false
	}
	switch v := lit.value.(type) {
	case string:
		return v, true
	case nil:
		return "", true
	default:
		return fmt.Sprint(v), true
	}
}

func (a annotation) number(key string, fallback float64) (float64, error) {
	lit, ok := a.meta[key]
	if !ok {
		return fallback, nil
	}
	switch v := lit.value.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("metadata %q is not a number", key)
}

func (a annotation) flag(key string) bool {
	lit, ok := a.meta[key]
	if !ok {
		return false
	}
	switch v := lit.value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}
