package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var ErrInvalidSecret = errors.New("invalid ingest secret")

// VerifySecret compares a presented shared secret against the configured one
// in constant time. An empty expected secret never matches.
func VerifySecret(expected, presented string) bool {
	return VerifySecretDetailed(expected, presented) == nil
}

func VerifySecretDetailed(expected, presented string) error {
	if expected == "" || presented == "" {
		return ErrInvalidSecret
	}
	// Hash both sides so the comparison length does not leak the secret length.
	want := sha256.Sum256([]byte(expected))
	got := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return ErrInvalidSecret
	}
	return nil
}
