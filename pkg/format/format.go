// Package format holds small presentation helpers shared by the API handlers.
package format

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	maxFileNameLen  = 50
	defaultFileName = "skechum-image"
)

// FileName turns a prompt into a download-friendly slug: lowercase ASCII
// letters and digits joined by single hyphens, at most 50 characters, never
// starting or ending with a hyphen.
func FileName(prompt string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(prompt) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	slug := b.String()
	if len(slug) > maxFileNameLen {
		slug = slug[:maxFileNameLen]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return defaultFileName
	}
	return slug
}

// Elapsed renders a duration in milliseconds as seconds with one decimal, e.g. "2.4s".
func Elapsed(ms int64) string {
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
