// ABOUTME: Phone number normalization used as the contact identity key
// ABOUTME: Reduces raw numbers to digits with an optional leading plus
package models

import (
	"strings"
)

// NormalizePhone returns the canonical key for a raw phone number.
// Formatting characters are dropped, a leading "+" is kept and an
// international "00" prefix is rewritten to "+". Input without any
// digits normalizes to "".
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	plus := strings.HasPrefix(raw, "+")
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		// Fullwidth digits from CJK input methods
		if r >= '０' && r <= '９' {
			b.WriteRune('0' + (r - '０'))
		}
	}

	digits := b.String()
	if digits == "" {
		return ""
	}
	if !plus && strings.HasPrefix(digits, "00") && len(digits) > 2 {
		return "+" + digits[2:]
	}
	if plus {
		return "+" + digits
	}
	return digits
}
