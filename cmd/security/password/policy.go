package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count characters (runes), not bytes, to be user-friendly.
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

// ValidateForAccount applies Validate and additionally rejects, under the
// very-weak policy, passwords that contain the account email's local part.
func (c Config) ValidateForAccount(password, email string) error {
	if err := c.Validate(password); err != nil {
		return err
	}
	if !c.Policy.RejectVeryWeak {
		return nil
	}
	local, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if len(local) >= 4 && strings.Contains(strings.ToLower(password), local) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak is minimal and conservative; it is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	if strings.Count(s, string([]rune(s)[0])) == utf8.RuneCountInString(s) {
		return true
	}

	// PIN-like input.
	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) == -1 && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111", "letmein", "iloveyou":
		return true
	}
	return false
}
