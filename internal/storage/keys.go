package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// categoryPaths maps upload categories to their prefix under the user's
// folder. Contracts, deliverables, and reports nest under documents so the
// bucket layout mirrors how clients browse their files.
var categoryPaths = map[string]string{
	"projects":     "projects",
	"documents":    "documents",
	"contracts":    "documents/contracts",
	"deliverables": "documents/deliverables",
	"reports":      "documents/reports",
}

// NormalizeCategory maps arbitrary input to a known category, defaulting to
// "documents".
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if _, ok := categoryPaths[c]; ok {
		return c
	}
	return "documents"
}

// BuildKey constructs a storage key for an upload. A random UUID prefix on
// the filename keeps repeated uploads of the same name from colliding.
func BuildKey(userID, category, filename string) string {
	return fmt.Sprintf("clients/%s/%s/%s-%s",
		userID, categoryPaths[NormalizeCategory(category)], uuid.NewString(), sanitizeFilename(filename))
}

// sanitizeFilename strips path separators and characters that are unsafe in
// object keys, keeping the original name readable.
func sanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if s == "" || strings.Trim(s, "._") == "" {
		return "file"
	}
	return s
}
