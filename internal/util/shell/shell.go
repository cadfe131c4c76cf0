// Package shell builds POSIX shell command lines for remote execution.
package shell

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Quote wraps s in single quotes so a POSIX shell treats it as one word.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./=:@,+", r):
		return false
	}
	return true
}

// Join quotes each argument and joins them with spaces.
func Join(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Normalize splits a user supplied command with shell word rules and quotes
// it back, so operators and substitutions in configuration reach the remote
// shell as literal arguments.
func Normalize(command string) (string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return "", fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	return Join(args...), nil
}
