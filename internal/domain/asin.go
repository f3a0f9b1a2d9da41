package domain

import (
	"regexp"
	"strings"
)

// asinPattern matches a normalized ASIN: "B" followed by 9 alphanumerics.
var asinPattern = regexp.MustCompile(`^B[0-9A-Z]{9}$`)

// NormalizeASIN trims whitespace and uppercases an ASIN candidate.
func NormalizeASIN(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsValidASIN reports whether the given string is a well-formed,
// already-normalized ASIN.
func IsValidASIN(asin string) bool {
	return asinPattern.MatchString(asin)
}

// ValidateASINs normalizes, validates, and dedupes the given ASINs.
// Insertion order of the first occurrence is preserved; invalid inputs are
// returned separately (in their original form) rather than silently dropped.
func ValidateASINs(raw []string) (valid, rejected []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		asin := NormalizeASIN(r)
		if !IsValidASIN(asin) {
			rejected = append(rejected, r)
			continue
		}
		if _, dup := seen[asin]; dup {
			continue
		}
		seen[asin] = struct{}{}
		valid = append(valid, asin)
	}
	return valid, rejected
}
