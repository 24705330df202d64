package knowledge

import "strings"

// Normalize is the single normalization applied to utterances, topics,
// aliases and option labels before any equality comparison.
func Normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// Equal reports whether a and b are the same after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
