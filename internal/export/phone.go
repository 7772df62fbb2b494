package export

import (
	"strings"
	"unicode"
)

// minPhoneLength is the shortest plausible E.164 number including the plus
// and a country code.
const minPhoneLength = 8

// NormalizePhone formats a stored phone number for the dialer: whitespace,
// dashes and parentheses are stripped and a leading + is ensured. It reports
// false for numbers too short to be dialable.
func NormalizePhone(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), r == '-', r == '(', r == ')':
			return -1
		default:
			return r
		}
	}, raw)

	if cleaned == "" {
		return "", false
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	if len(cleaned) < minPhoneLength {
		return cleaned, false
	}
	return cleaned, true
}
