package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy violations. Their messages are shown to users as-is.
var (
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is too long")
	ErrWeakPassword     = errors.New("password is too easy to guess")
)

var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"motdepasse":  {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"azerty":      {},
	"qwerty123":   {},
	"11111111":    {},
}

// Validate checks password policy. Length is counted in runes, not bytes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches a single repeated character, short digit-only PINs and a
// handful of well-known passwords. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	digits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) == -1
	return digits && utf8.RuneCountInString(s) < 12
}
