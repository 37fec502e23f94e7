// Package util provides common utility functions used across the oauth2-grants library.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - SplitScopes / JoinScopes: Delimiter-aware scope parameter handling
//   - IsSubset / SameScopes: Scope-set comparisons for narrowing checks
package util
