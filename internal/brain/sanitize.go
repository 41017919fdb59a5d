package brain

import "strings"

var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"},
	{"`", "`"},
}

// SanitizePostText trims whitespace and removes one pair of quotes wrapping
// the whole text, which models tend to add around replies. Returns the
// cleaned text and whether quotes were stripped.
func SanitizePostText(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, q := range quotePairs {
		if len(text) < len(q[0])+len(q[1]) {
			continue
		}
		if !strings.HasPrefix(text, q[0]) || !strings.HasSuffix(text, q[1]) {
			continue
		}
		inner := text[len(q[0]) : len(text)-len(q[1])]
		// inner quotes mean the outer pair is not a wrapper
		if strings.Contains(inner, q[0]) || strings.Contains(inner, q[1]) {
			continue
		}
		return strings.TrimSpace(inner), true
	}
	return text, false
}
