package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxEmailLen             = 255
	maxProviderLen          = 50
	maxProviderAccountIDLen = 255
)

// NormalizeEmail performs case-insensitive canonicalization.
// Note: only trim + lower-case; provider-specific rules (dots, plus tags) are
// not applied because they differ between mail hosts.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeProvider canonicalizes an OAuth provider name ("GitHub" -> "github").
func NormalizeProvider(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail is a shape check, not deliverability: one '@', both halves
// non-empty, no whitespace, a dot in the domain, and bounded length.
func ValidEmail(norm string) bool {
	if norm == "" || utf8.RuneCountInString(norm) > maxEmailLen {
		return false
	}
	if strings.IndexFunc(norm, unicode.IsSpace) >= 0 {
		return false
	}
	local, domain, ok := strings.Cut(norm, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}

func validProvider(provider, accountID string) bool {
	return provider != "" && accountID != "" &&
		len(provider) <= maxProviderLen && len(accountID) <= maxProviderAccountIDLen
}
