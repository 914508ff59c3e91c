// Package ident generates the short opaque identifiers used for threads,
// messages, anonymous sender sessions and stored audio objects.
package ident

import (
	"crypto/rand"
	"encoding/base64"
)

// New returns a short, URL-safe identifier.
// Uses 8 cryptographically random bytes (64 bits), enough to make collisions
// statistically irrelevant at this service's volume. The encoding carries no
// owner or sequence information, so ids are not guessable or enumerable.
func New() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand never fails on supported platforms
		panic("ident: rand.Read: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
