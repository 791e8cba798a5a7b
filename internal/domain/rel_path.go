package domain

import (
	"fmt"
	"path"
	"strings"
)

// RelPath is a normalized, slash-separated path relative to the repository
// root. Two spellings of the same file ("./a//b.go", "a/b.go") normalize to
// the same RelPath, which is what makes file-set intersection meaningful.
type RelPath string

// NewRelPath normalizes raw and rejects paths that are absolute or escape
// the repository root.
func NewRelPath(raw string) (RelPath, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}

	s = strings.ReplaceAll(s, "\\", "/")
	if strings.HasPrefix(s, "/") || hasDriveLetter(s) {
		return "", fmt.Errorf("file path %q must be relative to the repository root", raw)
	}

	cleaned := path.Clean(s)
	if cleaned == "." {
		return "", fmt.Errorf("file path %q does not name a file", raw)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("file path %q escapes the repository root", raw)
	}

	return RelPath(cleaned), nil
}

// String returns the string representation
func (p RelPath) String() string {
	return string(p)
}

func hasDriveLetter(s string) bool {
	return len(s) >= 2 && s[1] == ':' && ((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z'))
}
