// Package phone holds the pure phone-number helpers shared by the rest of
// the service: E.164-ish normalization, the looser pre-dial normalizer, and
// masking for log output.
package phone

import "strings"

// Normalize strips everything except digits and a leading "+", then ensures
// the result carries a leading "+". Returns "" for inputs with no digits.
// No country-code inference happens here; see NormalizeDial for the looser
// contract used only before dialing out.
func Normalize(raw string) string {
	cleaned := clean(raw)
	if cleaned == "" || cleaned == "+" {
		return ""
	}
	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	return "+" + cleaned
}

// NormalizeDial is the deliberately looser normalizer used only for outbound
// delivery. Unlike Normalize it infers a +1 country code for bare 10-digit
// numbers. Returns "" when the input cannot be made dialable.
func NormalizeDial(raw string) string {
	cleaned := clean(raw)
	if cleaned == "" || cleaned == "+" {
		return ""
	}
	switch {
	case strings.HasPrefix(cleaned, "+") && len(cleaned) >= 10:
		return cleaned
	case len(cleaned) == 10:
		return "+1" + cleaned
	case len(cleaned) >= 11:
		return "+" + cleaned
	}
	return ""
}

// Mask hides the middle of a phone number for logging. Never use the result
// for matching.
func Mask(p string) string {
	if len(p) < 7 {
		return "****"
	}
	return p[:4] + "****" + p[len(p)-4:]
}

// Digits returns only the digit characters of raw. Session keys are derived
// from this form so that "+1440..." and "1440..." address the same session.
func Digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// clean drops every character that is not a digit or "+".
func clean(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
