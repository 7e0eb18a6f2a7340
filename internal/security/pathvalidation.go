// Package security contains validation helpers for values that cross the
// HTTP boundary and end up in filesystem paths or database keys.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that a file path stays inside the given
// root directory once cleaned and resolved. Artifact paths are built from
// caller-supplied ids, so every path is checked before the store touches it.
func ValidatePathWithinDirectory(filePath, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return fmt.Errorf("failed to resolve root directory: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %q escapes %q", filePath, root)
	}
	return nil
}

// ValidateResultID checks that an analysis id taken from a URL is shaped like
// the uuid strings the store generates. Anything else is rejected before it
// can reach a filesystem path.
func ValidateResultID(id string) error {
	if len(id) != 36 {
		return fmt.Errorf("result id must be 36 characters, got %d", len(id))
	}
	for i, r := range id {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return fmt.Errorf("result id has malformed separator at position %d", i)
			}
		default:
			if !isHexDigit(r) {
				return fmt.Errorf("result id contains invalid character %q", r)
			}
		}
	}
	return nil
}

// ValidateDigest checks that a content digest taken from a URL is a sha256
// hex string.
func ValidateDigest(digest string) error {
	if len(digest) != 64 {
		return fmt.Errorf("content digest must be 64 hex characters, got %d", len(digest))
	}
	for _, r := range digest {
		if !isHexDigit(r) {
			return fmt.Errorf("content digest contains invalid character %q", r)
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// SanitizeDeviceID makes a safe identifier from a caller-supplied device id.
// Characters outside ASCII letters, digits, dot, underscore and dash collapse
// to a single underscore; the result is length-capped so it can be embedded
// in filenames and log lines.
func SanitizeDeviceID(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	const maxLen = 64
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
