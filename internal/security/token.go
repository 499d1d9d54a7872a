package security

import (
	"crypto/sha256"
	"crypto/subtle"
)

// SecureCompare reports whether two tokens match without leaking where
// they diverge through timing. Both sides are hashed first so the
// comparison always runs over fixed-length input.
func SecureCompare(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
