package velocity

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const serversTable = "servers"

var serverNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type proxyConfig struct {
	Servers map[string]any `toml:"servers"`
}

// ValidateServerName checks that name can be used as a bare TOML key.
func ValidateServerName(name string) error {
	if name == "try" || !serverNameRegex.MatchString(name) {
		return fmt.Errorf("invalid server name %q", name)
	}
	return nil
}

// SetServer points server name at address ("host:port"), replacing an
// existing entry in place. It reports whether the document changed.
func SetServer(content, name, address string) (string, bool, error) {
	if err := ValidateServerName(name); err != nil {
		return "", false, err
	}
	servers, err := parseServers(content)
	if err != nil {
		return "", false, err
	}
	if current, ok := servers[name].(string); ok && current == address {
		return content, false, nil
	}

	entry, err := assignment(name, address)
	if err != nil {
		return "", false, err
	}

	doc := splitLines(content)
	start, end, found := doc.table(serversTable)
	if !found {
		doc.lines = append(doc.lines, "", "["+serversTable+"]", entry)
		return doc.verify(name, address)
	}

	if s, e, ok := doc.key(start, end, name); ok {
		doc.replace(s, e, entry)
		return doc.verify(name, address)
	}

	// Keep the try list last, the way velocity writes it.
	insertAt := doc.lastAssignment(start, end) + 1
	if s, _, ok := doc.key(start, end, "try"); ok {
		insertAt = s
	}
	doc.insert(insertAt, entry)
	return doc.verify(name, address)
}

// RemoveServer deletes server name and drops it from the try list.
// It reports whether the document changed.
func RemoveServer(content, name string) (string, bool, error) {
	if err := ValidateServerName(name); err != nil {
		return "", false, err
	}
	servers, err := parseServers(content)
	if err != nil {
		return "", false, err
	}

	doc := splitLines(content)
	start, end, found := doc.table(serversTable)
	if !found {
		return content, false, nil
	}

	changed := false
	if try, ok := servers["try"].([]any); ok {
		kept := make([]string, 0, len(try))
		for _, v := range try {
			if s, ok := v.(string); ok && s != name {
				kept = append(kept, s)
			}
		}
		if len(kept) != len(try) {
			entry, err := assignment("try", kept)
			if err != nil {
				return "", false, err
			}
			s, e, ok := doc.key(start, end, "try")
			if !ok {
				return "", false, fmt.Errorf("try list is not a plain assignment in [%s]", serversTable)
			}
			doc.replace(s, e, entry)
			changed = true
			start, end, _ = doc.table(serversTable)
		}
	}

	if s, e, ok := doc.key(start, end, name); ok {
		doc.replace(s, e)
		changed = true
	}
	if !changed {
		return content, false, nil
	}

	out := doc.String()
	check, err := parseServers(out)
	if err != nil {
		return "", false, fmt.Errorf("edited config does not parse: %w", err)
	}
	if _, still := check[name]; still {
		return "", false, fmt.Errorf("server %s still present after edit", name)
	}
	return out, true, nil
}

// Servers returns the name to address map of the [servers] table.
func Servers(content string) (map[string]string, error) {
	servers, err := parseServers(content)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(servers))
	for k, v := range servers {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

func parseServers(content string) (map[string]any, error) {
	var cfg proxyConfig
	if err := toml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse velocity config: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]any{}
	}
	return cfg.Servers, nil
}

// assignment renders a single "key = value" line through the encoder so the
// value is quoted correctly.
func assignment(key string, value any) (string, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf).SetArraysMultiline(false)
	if err := enc.Encode(map[string]any{key: value}); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

type document struct {
	lines           []string
	trailingNewline bool
}

func splitLines(content string) *document {
	d := &document{trailingNewline: content == "" || strings.HasSuffix(content, "\n")}
	if content != "" {
		d.lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}
	return d
}

func (d *document) String() string {
	s := strings.Join(d.lines, "\n")
	if d.trailingNewline {
		s += "\n"
	}
	return s
}

// table returns the line range [start, end) of the body of [name].
func (d *document) table(name string) (int, int, bool) {
	start := -1
	for i, line := range d.lines {
		header, ok := tableHeader(line)
		if !ok {
			continue
		}
		if start >= 0 {
			return start, i, true
		}
		if header == name {
			start = i + 1
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	return start, len(d.lines), true
}

func tableHeader(line string) (string, bool) {
	t := strings.TrimSpace(stripComment(line))
	if !strings.HasPrefix(t, "[") || !strings.HasSuffix(t, "]") {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(t, "[]")), true
}

// key returns the line range [start, end) of the assignment to key inside
// [from, to), following multi-line arrays to their closing bracket.
func (d *document) key(from, to int, key string) (int, int, bool) {
	for i := from; i < to; i++ {
		k, rest, ok := strings.Cut(stripComment(d.lines[i]), "=")
		if !ok || unquoteKey(strings.TrimSpace(k)) != key {
			continue
		}
		end := i + 1
		depth := strings.Count(rest, "[") - strings.Count(rest, "]")
		for depth > 0 && end < to {
			line := stripComment(d.lines[end])
			depth += strings.Count(line, "[") - strings.Count(line, "]")
			end++
		}
		return i, end, true
	}
	return 0, 0, false
}

func (d *document) lastAssignment(from, to int) int {
	last := from - 1
	for i := from; i < to; i++ {
		if strings.Contains(stripComment(d.lines[i]), "=") {
			last = i
		}
	}
	return last
}

func (d *document) replace(start, end int, with ...string) {
	d.lines = slices.Replace(d.lines, start, end, with...)
}

func (d *document) insert(at int, line string) {
	d.lines = slices.Insert(d.lines, at, line)
}

func (d *document) verify(name, address string) (string, bool, error) {
	out := d.String()
	servers, err := parseServers(out)
	if err != nil {
		return "", false, fmt.Errorf("edited config does not parse: %w", err)
	}
	if got, _ := servers[name].(string); got != address {
		return "", false, fmt.Errorf("server %s resolves to %q after edit, want %q", name, got, address)
	}
	return out, true, nil
}

// stripComment drops a trailing # comment outside of quoted strings.
func stripComment(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return line[:i]
		}
	}
	return line
}

func unquoteKey(k string) string {
	if len(k) >= 2 && (k[0] == '"' || k[0] == '\'') && k[len(k)-1] == k[0] {
		return k[1 : len(k)-1]
	}
	return k
}
