package util

import (
	"strings"
	"unicode"
)

// NormalizePhone converts a raw phone number to international format.
// Numbers without a country code are assumed to be Uzbek (+998).
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	p := digits.String()

	switch {
	case strings.HasPrefix(p, "998"):
		return "+" + p
	case len(p) == 9 && strings.HasPrefix(p, "9"):
		return "+998" + p
	case p == "":
		return ""
	default:
		return "+" + p
	}
}

// ValidPhone reports whether the phone is in acceptable international
// format: leading plus followed by 10 to 15 digits.
func ValidPhone(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}
	digits := phone[1:]
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// MaskPhone hides the middle of a phone number for logs, e.g. +998*****4567.
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return phone
	}
	return phone[:4] + strings.Repeat("*", len(phone)-8) + phone[len(phone)-4:]
}
