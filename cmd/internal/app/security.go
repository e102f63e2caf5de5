package app

import (
	"errors"

	"spotline/cmd/security/token"
)

// TokenHasher enforces the token hashing policy at startup and returns the hasher shared by
// sessions and invitation links. It fails fast instead of falling back to plain SHA-256 when
// HMAC is required.
func TokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.NewHasher(cfg.TokenHMACKey, cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, errors.New("security policy: SPOTLINE_REQUIRE_TOKEN_HMAC=true but SPOTLINE_TOKEN_HMAC_KEY is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, errors.New("security policy: SPOTLINE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
	case err != nil:
		return token.Hasher{}, err
	}
	if cfg.RequireTokenHMAC && !h.HMACEnabled() {
		return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
	}
	return h, nil
}
