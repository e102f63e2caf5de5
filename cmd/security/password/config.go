package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Iterations  uint32 `env:"ARGON2_ITERATIONS" envDefault:"3"`
	Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`
	SaltLength  uint32 `env:"ARGON2_SALT_LEN" envDefault:"16"`
	KeyLength   uint32 `env:"ARGON2_KEY_LEN" envDefault:"32"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"PASSWORD_MIN_LEN" envDefault:"8"`
	MaxLength int `env:"PASSWORD_MAX_LEN" envDefault:"256"`
	// RejectVeryWeak enables an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"PASSWORD_REJECT_VERY_WEAK" envDefault:"false"`
}

// Config is the single configuration surface for this package.
// It is embedded into the application config and parsed from the environment there.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig mirrors the envDefault tags for callers that do not parse the environment.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// Check validates bounds after the config has been parsed.
func (c Config) Check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("argon2 memory_kib out of range [8192..1048576]: %d", p.MemoryKiB)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("argon2 iterations out of range [1..20]: %d", p.Iterations)
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("argon2 parallelism out of range [1..64]: %d", p.Parallelism)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("argon2 salt_len out of range [8..64]: %d", p.SaltLength)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("argon2 key_len out of range [16..64]: %d", p.KeyLength)
	}

	if c.Policy.MinLength < 1 || c.Policy.MaxLength > 4096 {
		return fmt.Errorf("password policy out of range: min=%d max=%d", c.Policy.MinLength, c.Policy.MaxLength)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}
