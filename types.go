package mediavault

import (
	"fmt"
	"strings"
)

// CipherSuite represents the AEAD algorithm used for folder names and content
type CipherSuite uint8

const (
	// CipherAuto selects the default suite (AES-256-GCM)
	CipherAuto CipherSuite = iota
	// CipherAES256GCM uses AES-256 with Galois/Counter Mode
	CipherAES256GCM
	// CipherChaCha20Poly1305 uses ChaCha20 stream cipher with Poly1305 MAC
	CipherChaCha20Poly1305
)

// String returns the string representation of the cipher suite
func (c CipherSuite) String() string {
	switch c {
	case CipherAuto:
		return "auto"
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown"
	}
}

// Resolve maps CipherAuto to the concrete suite that is written to disk.
func (c CipherSuite) Resolve() CipherSuite {
	if c == CipherAuto {
		return CipherAES256GCM
	}
	return c
}

// Valid reports whether c names a supported suite.
func (c CipherSuite) Valid() bool {
	return c == CipherAuto || c == CipherAES256GCM || c == CipherChaCha20Poly1305
}

// MarshalText implements encoding.TextMarshaler.
func (c CipherSuite) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, ErrUnsupportedCipher
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by environment
// configuration.
func (c *CipherSuite) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "auto":
		*c = CipherAuto
	case "aes-256-gcm", "aes", "aesgcm":
		*c = CipherAES256GCM
	case "chacha20-poly1305", "chacha", "chacha20":
		*c = CipherChaCha20Poly1305
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCipher, string(text))
	}
	return nil
}

// Argon2idParams contains parameters for Argon2id key derivation. They are
// recorded in every verifier and must match exactly on unlock.
type Argon2idParams struct {
	Memory      uint32 // Memory in KiB (e.g., 64*1024 for 64MB)
	Iterations  uint32 // Number of iterations (time parameter)
	Parallelism uint8  // Degree of parallelism
}

// DefaultArgon2idParams returns the production derivation cost.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// Validate checks the parameters against sane lower bounds.
func (p Argon2idParams) Validate() error {
	if p.Memory < 8*uint32(p.Parallelism) || p.Memory < 1024 {
		return NewValidationError("kdf.memory", p.Memory, "argon2id memory must be at least 1024 KiB and 8 KiB per lane")
	}
	if p.Iterations < 1 {
		return NewValidationError("kdf.iterations", p.Iterations, "argon2id iterations must be at least 1")
	}
	if p.Parallelism < 1 {
		return NewValidationError("kdf.parallelism", p.Parallelism, "argon2id parallelism must be at least 1")
	}
	return nil
}

const (
	// KeySize is the size of the vault key and every subkey.
	KeySize = 32

	// SaltSize is the size of verifier and stream salts.
	SaltSize = 32

	// DefaultChunkSize is the default plaintext chunk size for content streams.
	DefaultChunkSize = 64 * 1024

	// MinChunkSize is the smallest accepted chunk size (small values are for tests).
	MinChunkSize = 64

	// MaxChunkSize is the largest accepted chunk size.
	MaxChunkSize = 16 * 1024 * 1024
)
