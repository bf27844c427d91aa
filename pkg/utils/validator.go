package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// ValidateDraftID checks that id is a canonical UUID
func ValidateDraftID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid draft id %q: %w", id, err)
	}
	if parsed.String() != strings.ToLower(id) {
		return fmt.Errorf("invalid draft id %q: not in canonical form", id)
	}
	return nil
}

// ValidateDraftIDs validates every id and rejects an empty list and repeats
func ValidateDraftIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one draft id is required")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ValidateDraftID(id); err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("draft id %s listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ParseLimit parses a page size. Empty input gives def; values above max are clamped.
func ParseLimit(s string, def, max int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("limit must be positive: %d", n)
	}
	if n > max {
		return max, nil
	}
	return n, nil
}

// ParseOffset parses a non-negative offset; empty input gives 0
func ParseOffset(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return n, nil
}
