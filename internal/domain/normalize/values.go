package normalize

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// keys tried, in order, when a scalar is wanted but an object was found
var scalarKeys = []string{"name", "value", "@value", "text", "url", "reviewBody", "description"}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, k := range scalarKeys {
			if s := asString(findKey(t, k)); s != "" {
				return s
			}
		}
	case []any:
		if len(t) > 0 {
			return asString(t[0])
		}
	}
	return ""
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return dedupeStrings(t)
	default:
		if s := asString(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

// asStringMap accepts either an object of scalars or a list of {name, value} pairs.
func asStringMap(v any) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if strings.HasPrefix(k, "@") {
				continue
			}
			if _, nested := val.(map[string]any); nested {
				continue
			}
			if s := asString(val); s != "" {
				out[k] = s
			}
		}
	case map[string]string:
		for k, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out[k] = s
			}
		}
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := asString(findKey(m, "name"))
			if name == "" {
				name = asString(findKey(m, "label"))
			}
			val := asString(findKey(m, "value"))
			if name != "" && val != "" {
				out[name] = val
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func asNestedMap(v any) map[string]map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]map[string]string{}
	for k, val := range m {
		if inner := asStringMap(val); len(inner) > 0 {
			out[k] = inner
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
