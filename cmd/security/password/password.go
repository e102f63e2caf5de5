package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = argon2.Version

// ErrInvalidHash reports a stored hash that is not a usable Argon2id PHC string.
var ErrInvalidHash = errors.New("invalid password hash")

var b64 = base64.RawStdEncoding

// Hash validates password against the policy and returns a PHC-encoded Argon2id hash:
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	p := c.Params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash.
// A malformed hash, or one whose cost is far above the configured parameters, yields ErrInvalidHash.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	ph, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if !ph.within(c.Params) {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey(
		[]byte(password),
		ph.salt,
		ph.params.Iterations,
		ph.params.MemoryKiB,
		ph.params.Parallelism,
		ph.params.KeyLength,
	)
	return subtle.ConstantTimeCompare(got, ph.key) == 1, nil
}

type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

// within accepts hashes produced with older or smaller settings but rejects
// attacker-controlled strings that ask for pathological work.
func (h phc) within(limits Argon2idParams) bool {
	p := h.params
	return p.MemoryKiB <= limits.MemoryKiB*2 &&
		p.Iterations <= limits.Iterations*2 &&
		uint32(p.Parallelism) <= uint32(limits.Parallelism)*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return phc{}, ErrInvalidHash
	}

	var mem, iter, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return phc{}, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 || par > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  iter,
			Parallelism: uint8(par),       // #nosec G115 -- bounded above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- decoded from a short field.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- decoded from a short field.
		},
		salt: salt,
		key:  key,
	}, nil
}
