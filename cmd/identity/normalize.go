package identity

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// NormalizeEmail performs case-insensitive canonicalization.
// Emails are compared on this form everywhere, including invitation reconciliation.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a single bare address.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

const (
	minPseudoLen = 2
	maxPseudoLen = 30
)

func validPseudoLen(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= minPseudoLen && n <= maxPseudoLen
}
