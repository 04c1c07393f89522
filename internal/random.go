package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRefreshID returns a random refresh-token record identifier. It is
// independent of the signed refresh token payload.
func NewRefreshID() string {
	return uuid.NewString()
}

// NewTokenID returns a sortable access-token identifier (jti).
func NewTokenID() string {
	return NewTokenIDAt(time.Now())
}

// NewTokenIDAt returns a token identifier stamped with t.
func NewTokenIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// HashToken returns the SHA-256 digest stored in place of a raw token.
func HashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// TokenHashEqual compares a raw token against a stored digest in constant time.
func TokenHashEqual(token string, stored []byte) bool {
	return subtle.ConstantTimeCompare(HashToken(token), stored) == 1
}
