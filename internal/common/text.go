package common

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeText reduces untrusted input to a single-line token: control
// characters and angle brackets are removed, whitespace runs collapse to one
// space and the result is cut to max runes (0 means unbounded).
func SanitizeText(value string, max int) string {
	if !utf8.ValidString(value) {
		value = strings.ToValidUTF8(value, "")
	}
	var b strings.Builder
	b.Grow(len(value))
	space := false
	n := 0
	for _, r := range value {
		if max > 0 && n >= max {
			break
		}
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r), r == '<', r == '>':
			continue
		}
		if space {
			if max > 0 && n+2 > max {
				break
			}
			b.WriteByte(' ')
			n++
			space = false
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeEmail returns the bare address when value parses as an email and "" otherwise.
func SanitizeEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return ""
	}
	return strings.ToLower(addr.Address)
}
