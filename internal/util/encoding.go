package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKC form of s. Secrets typed on different
// keyboards compare equal after normalization.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeAccount canonicalizes an account identifier (an email address)
// for use as a storage key.
func NormalizeAccount(s string) string {
	return strings.ToLower(strings.TrimSpace(Normalize(s)))
}
