package crawler

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lookup walks a decoded JSON value along a dotted key path. An empty path
// returns the value itself.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupString returns the value at path rendered as a string.
func LookupString(v any, path string) (string, bool) {
	raw, ok := Lookup(v, path)
	if !ok || raw == nil {
		return "", false
	}
	s := Stringify(raw)
	return s, s != ""
}

// LookupInt returns the value at path as an int. Numbers and numeric strings
// are accepted.
func LookupInt(v any, path string) (int, bool) {
	raw, ok := Lookup(v, path)
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// Stringify renders a scalar JSON value. Composite values render empty.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}
