package emailutil

import (
	"slices"
	"strings"
)

// Normalize lowercases and trims an email so role lookups and cache keys
// agree regardless of how the address was typed.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Domain returns the part after the last '@', or "" when there is none.
func Domain(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

// InDomains reports whether email belongs to one of domains. An empty list
// allows every address.
func InDomains(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	d := Domain(email)
	if d == "" {
		return false
	}
	return slices.ContainsFunc(domains, func(allowed string) bool {
		return strings.EqualFold(allowed, d)
	})
}
