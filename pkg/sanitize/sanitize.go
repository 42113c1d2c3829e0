package sanitize

import (
	"regexp"
	"strings"
)

// Plain email (case-insensitive)
var reEmail = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)

// Common phone shapes: +xx..., (xxx) xxx-xxxx, 05xx...
// At least 9 digits overall so short numbers are left alone.
var rePhone = regexp.MustCompile(`\+?\d[\d\s\-\.\(\)]{7,}\d`)

// RedactPII removes emails and phone numbers from free text.
func RedactPII(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[redacted email]")
	s = rePhone.ReplaceAllString(s, "[redacted phone]")
	return s
}

// Summary trims s to at most max runes for list views, cutting at a word boundary.
func Summary(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	i := max
	for i > 0 && r[i] != ' ' {
		i--
	}
	if i <= 0 {
		i = max
	}
	return string(r[:i]) + "…"
}

// MaskNationalID keeps the last 4 characters of an identity/tax number.
func MaskNationalID(s string) string {
	return maskTail(s, 4)
}

// MaskPhone keeps the last 2 digits.
func MaskPhone(s string) string {
	return maskTail(s, 2)
}

func maskTail(s string, keep int) string {
	r := []rune(s)
	if len(r) <= keep {
		return s
	}
	return strings.Repeat("*", len(r)-keep) + string(r[len(r)-keep:])
}

// MaskEmail keeps the first letter of the local part and the domain.
func MaskEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return s
	}
	local := []rune(s[:at])
	if len(local) <= 1 {
		return s
	}
	return string(local[:1]) + strings.Repeat("*", len(local)-1) + s[at:]
}
