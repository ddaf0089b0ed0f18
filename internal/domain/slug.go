package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	maxSlugLen  = 200
)

// NormalizeSlug normalizes a term name into a valid slug.
// Rules:
// - Always lower-case
// - Allowed characters: a-z, 0-9, -
// - Must start with [a-z0-9]
// - Max length: 200 bytes
func NormalizeSlug(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("slug cannot be empty")
	}

	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")

	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	s = strings.Trim(result.String(), "-")

	if len(s) == 0 || !((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= '0' && s[0] <= '9')) {
		return "", fmt.Errorf("slug must start with alphanumeric character")
	}
	if len(s) > maxSlugLen {
		return "", fmt.Errorf("slug exceeds maximum length of %d bytes", maxSlugLen)
	}
	if !slugPattern.MatchString(s) {
		return "", fmt.Errorf("invalid slug format: %s", s)
	}

	return s, nil
}

// ValidateSlug checks if a string is a valid slug without normalization.
func ValidateSlug(s string) error {
	if s == "" {
		return fmt.Errorf("slug cannot be empty")
	}
	if len(s) > maxSlugLen {
		return fmt.Errorf("slug exceeds maximum length of %d bytes", maxSlugLen)
	}
	if !slugPattern.MatchString(s) {
		return fmt.Errorf("invalid slug format: must be lowercase, start with alphanumeric, and contain only [a-z0-9-]")
	}
	return nil
}
