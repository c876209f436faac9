package signature

import "crypto/subtle"

// Compare reports whether two encoded tokens decode to the same bytes. Tokens
// that fail to decode or differ in decoded length compare unequal without a
// byte-wise scan; otherwise the scan takes the same time wherever they differ.
func Compare(provided, expected string, enc Encoding) bool {
	a, err := decode(provided, enc)
	if err != nil {
		return false
	}
	b, err := decode(expected, enc)
	if err != nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
