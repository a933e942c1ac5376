// Package util provides small shared helpers used across the authcache library.
package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Credential secrets must never be logged whole; log call sites use this to
// emit only a short prefix.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// CanonicalHost normalizes an authority host for comparison: lowercased with
// any trailing slashes removed. Cache environments and discovery aliases are
// compared through this so that "Login.MicrosoftOnline.com/" and
// "login.microsoftonline.com" hit the same records.
func CanonicalHost(host string) string {
	return strings.ToLower(strings.TrimRight(host, "/"))
}

// JoinScopes renders a scope set in the space-separated wire format used both
// by the token endpoint and by the cache's target field.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// SplitScopes parses a space-separated scope string, dropping empty elements.
func SplitScopes(s string) []string {
	return strings.Fields(s)
}

// ScopeSuperset reports whether have (a scope set) contains every scope in
// want. Comparison is case-insensitive, matching AAD scope semantics.
func ScopeSuperset(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[strings.ToLower(s)] = struct{}{}
	}
	for _, s := range want {
		if _, ok := set[strings.ToLower(s)]; !ok {
			return false
		}
	}
	return true
}
