// Package util provides common utility functions used across the oauth2-grants library.
// These utilities handle string manipulation and scope-set arithmetic shared by the
// server and storage packages.
package util

import (
	"slices"
	"strings"
)

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This keeps only a prefix of codes and tokens in logs.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
//	SafeTruncate("test", -1)                   // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitScopes splits a raw scope parameter on delimiter, trims every entry,
// drops empty entries and removes duplicates while keeping the first-seen order.
// An empty delimiter falls back to a single space.
//
// Example:
//
//	SplitScopes(" read  write read ", " ") // Returns: ["read", "write"]
//	SplitScopes("read,,write", ",")        // Returns: ["read", "write"]
func SplitScopes(raw, delimiter string) []string {
	if delimiter == "" {
		delimiter = " "
	}
	parts := strings.Split(raw, delimiter)
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(scopes, p) {
			continue
		}
		scopes = append(scopes, p)
	}
	return scopes
}

// JoinScopes joins scope identifiers with delimiter (a single space when empty).
func JoinScopes(scopes []string, delimiter string) string {
	if delimiter == "" {
		delimiter = " "
	}
	return strings.Join(scopes, delimiter)
}

// IsSubset reports whether every element of sub is contained in set.
func IsSubset(sub, set []string) bool {
	for _, s := range sub {
		if !slices.Contains(set, s) {
			return false
		}
	}
	return true
}

// SameScopes reports whether a and b hold the same scopes, ignoring order and duplicates.
func SameScopes(a, b []string) bool {
	return IsSubset(a, b) && IsSubset(b, a)
}
