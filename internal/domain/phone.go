package domain

import "strings"

// DefaultPhonePrefix is applied to bare 10-digit numbers.
const DefaultPhonePrefix = "+91"

// NormalizePhone canonicalizes user-entered phone numbers: 10 digits get the
// default country prefix, 12 digits starting with 91 get a plus, anything
// already prefixed passes through. Unrecognized input is returned trimmed so
// the backend can reject it with a proper message.
func NormalizePhone(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	switch d := digits.String(); {
	case len(d) == 10:
		return DefaultPhonePrefix + d
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		return "+" + d
	case strings.HasPrefix(trimmed, DefaultPhonePrefix):
		return trimmed
	default:
		return trimmed
	}
}
