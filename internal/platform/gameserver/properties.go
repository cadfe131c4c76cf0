package gameserver

import (
	"fmt"
	"sort"
	"strings"
)

// SetProperties rewrites the given keys in a Java properties document.
// Existing keys are replaced in place, the first occurrence wins and later
// duplicates are dropped. Missing keys are appended in sorted order. All other
// lines, comments included, are preserved.
func SetProperties(content string, values map[string]string) (string, error) {
	for k, v := range values {
		if k == "" || strings.ContainsAny(k, "=: \t\r\n") {
			return "", fmt.Errorf("invalid property key %q", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return "", fmt.Errorf("property %s: value must be a single line", k)
		}
	}

	trailingNewline := content == "" || strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(lines)+len(values))
	for _, line := range lines {
		key, ok := propertyKey(line)
		if !ok {
			out = append(out, line)
			continue
		}
		v, managed := values[key]
		switch {
		case !managed:
			out = append(out, line)
		case seen[key]:
			// duplicate
		default:
			out = append(out, key+"="+v)
			seen[key] = true
		}
	}

	missing := make([]string, 0, len(values))
	for k := range values {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	for _, k := range missing {
		out = append(out, k+"="+values[k])
	}

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result, nil
}

// propertyKey extracts the key of a "key=value" or "key: value" line.
func propertyKey(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '!' {
		return "", false
	}
	end := strings.IndexAny(trimmed, "=: \t")
	if end < 0 {
		return trimmed, true
	}
	return trimmed[:end], true
}
