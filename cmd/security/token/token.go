// Package token generates opaque bearer tokens and derives their at-rest hashes.
//
// Session tokens and invitation link tokens are never persisted in plaintext: stores keep
// a 64-char hex digest produced by a Hasher. With a configured key the digest is
// HMAC-SHA256(token, key); without one it falls back to SHA-256 for local development.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrHMACKeyMissing is returned by NewHasher when HMAC is required but no key is set.
	ErrHMACKeyMissing = errors.New("token: hmac key missing")
	// ErrHMACKeyTooShort is returned for keys under MinHMACKeyBytes.
	ErrHMACKeyTooShort = errors.New("token: hmac key too short")
)

// MinHMACKeyBytes is the smallest key accepted for HMAC mode.
const MinHMACKeyBytes = 32

// Hasher hashes tokens for server-side storage.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher from a raw key. An empty key selects SHA-256 unless
// requireHMAC is set, in which case ErrHMACKeyMissing is returned.
func NewHasher(key string, requireHMAC bool) (Hasher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		if requireHMAC {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	// Measured in bytes because the key is used as raw bytes.
	if len(key) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return Hasher{key: []byte(key)}, nil
}

// HMACEnabled reports whether the hasher runs in keyed mode.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// Hash returns the storage digest for tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// NewOpaque returns nBytes of crypto/rand output encoded as unpadded base64url.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
