package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// resolveParams returns a copy of a step's params with {{path}} placeholders
// substituted from the execution input and earlier step payloads. Paths are
// rooted at "input" or "steps.<step_id>" and use dot notation with optional
// [n] indexing, e.g. {{steps.serp.items[0].url}}. A string that is exactly
// one placeholder keeps the referenced value's type; placeholders embedded
// in longer strings are stringified. Unresolvable placeholders are left in
// place so the adapter surfaces them as bad parameters.
func resolveParams(params map[string]interface{}, input map[string]interface{}, stepOutputs map[string]interface{}) map[string]interface{} {
	root := map[string]interface{}{
		"input": input,
		"steps": stepOutputs,
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, root)
	}
	return out
}

func resolveValue(v interface{}, root map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return resolveString(val, root)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = resolveValue(inner, root)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = resolveValue(inner, root)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, root map[string]interface{}) interface{} {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	// whole-string placeholder keeps the referenced value's type
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := strings.TrimSpace(s[matches[0][2]:matches[0][3]])
		if value, ok := lookupPath(root, path); ok {
			return value
		}
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		value, ok := lookupPath(root, path)
		if !ok {
			return m
		}
		return fmt.Sprintf("%v", value)
	})
}

// lookupPath walks dot-separated segments with optional [n] indexes.
func lookupPath(data interface{}, path string) (interface{}, bool) {
	current := data
	for _, segment := range strings.Split(path, ".") {
		key := segment
		var indexes []int
		for {
			open := strings.IndexByte(key, '[')
			if open < 0 {
				break
			}
			close := strings.IndexByte(key, ']')
			if close < open {
				return nil, false
			}
			idx, err := strconv.Atoi(key[open+1 : close])
			if err != nil {
				return nil, false
			}
			indexes = append(indexes, idx)
			key = key[:open] + key[close+1:]
		}

		if key != "" {
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			current, ok = m[key]
			if !ok {
				return nil, false
			}
		}

		for _, idx := range indexes {
			list, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
		}
	}
	return current, true
}
