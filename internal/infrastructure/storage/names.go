package storage

import (
	"regexp"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}\-_]`)

// SanitizeName returns a filesystem-safe version of an identity used as a
// file or folder name. Path separators and parent references are removed, and
// anything other than letters, digits, hyphens and underscores is dropped.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	return unsafeName.ReplaceAllString(strings.TrimSpace(name), "")
}
