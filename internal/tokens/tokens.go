// Package tokens produces and digests the opaque access tokens handed out by
// tokenslot. A raw token comes from a Source: either the local generator or an
// external issuer reached over HTTP. Only Hash(raw) is ever persisted.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// RawTokenBytes is the amount of entropy in a locally generated token.
// Hex encoding doubles it to 32 printable characters.
const RawTokenBytes = 16

var ErrNotAvailable = errors.New("token not available")

// Source yields a fresh raw token for the given username.
type Source interface {
	Obtain(ctx context.Context, username string) (string, error)
}

// Generate returns a new random token read from crypto/rand.
// A failing entropy source is not recoverable, so it panics.
func Generate() string {
	randomBytes := make([]byte, RawTokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("tokens: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(randomBytes)
}

// Hash returns the hex encoded SHA-256 digest of a raw token.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LocalSource generates tokens in-process and never fails.
type LocalSource struct{}

func (LocalSource) Obtain(
	_ context.Context,
	_ string,
) (
	string,
	error,
) {
	return Generate(), nil
}
