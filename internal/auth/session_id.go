package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// SessionIDBytes is the entropy of a session ID.
const SessionIDBytes = 32

// NewSessionID returns 256 random bits hex encoded as 64 characters.
func NewSessionID() string {
	b := make([]byte, SessionIDBytes)
	// crypto/rand.Read never returns an error
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
