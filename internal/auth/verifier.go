// Package auth verifies the shared proxy access key.
package auth

import "crypto/subtle"

// Verify reports whether presented equals expected. Lengths are compared
// first; for equal lengths the byte comparison takes the same time wherever
// the first difference is.
func Verify(presented, expected []byte) bool {
	if len(presented) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(presented, expected) == 1
}

// Verifier holds the configured access key.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for secret. The secret is copied.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Check compares a presented key against the configured one. An empty key
// never matches.
func (v *Verifier) Check(presented string) bool {
	if presented == "" || len(v.secret) == 0 {
		return false
	}
	return Verify([]byte(presented), v.secret)
}
