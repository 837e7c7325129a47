package sanitize

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageLength bounds message content size in runes.
const MaxMessageLength = 4000

// MessageContent normalizes user-typed message content: strips control
// characters (newlines and tabs survive) and trims surrounding whitespace.
// Returns the empty string for whitespace-only input.
func MessageContent(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// EscapeForPreview HTML-escapes a message body for safe embedding in list
// previews, collapsing newlines to spaces.
func EscapeForPreview(input string) string {
	input = strings.ReplaceAll(input, "\n", " ")
	return html.EscapeString(input)
}

// ValidateMessageLength checks message content is within bounds.
func ValidateMessageLength(content string) bool {
	n := utf8.RuneCountInString(content)
	return n > 0 && n <= MaxMessageLength
}

// TruncateLabel shortens an identifier-derived label for display fallback.
func TruncateLabel(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
