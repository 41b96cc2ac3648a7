// Package security checks names read from ratings documents before they are
// turned into paths or written to logs.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// MaxNameLength bounds a relative name.
const MaxNameLength = 1024

// maxLogLength bounds a sanitized log value.
const maxLogLength = 200

// ValidateRelativeName checks that name stays inside the folder it will be
// joined to: not empty, not absolute, no null byte and no ".." component.
func ValidateRelativeName(field, name string) error {
	reason := ""
	switch {
	case name == "":
		reason = "is empty"
	case strings.ContainsRune(name, 0):
		reason = "contains a null byte"
	case len(name) > MaxNameLength:
		reason = fmt.Sprintf("exceeds %d bytes", MaxNameLength)
	case filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`):
		reason = "must be relative"
	case escapes(name):
		reason = "escapes its folder"
	}
	if reason == "" {
		return nil
	}
	return errors.ValidationError(fmt.Sprintf("%s %q %s", field, SanitizeForLog(name), reason))
}

func escapes(name string) bool {
	cleaned := filepath.ToSlash(filepath.Clean(name))
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// SanitizeForLog escapes line breaks, drops other control characters and
// truncates s so it cannot forge log lines.
func SanitizeForLog(s string) string {
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= maxLogLength {
			b.WriteString("...")
			break
		}
		switch r {
		case '\n':
			b.WriteString(`\n`)
			count += 2
		case '\r':
			b.WriteString(`\r`)
			count += 2
		case '\t':
			b.WriteString(`\t`)
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}
	return b.String()
}
