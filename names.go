package mediavault

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// PhysicalNameLength is the length of every on-disk file name in a vault.
	PhysicalNameLength = 32

	nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// Largest multiple of len(nameAlphabet) that fits in a byte. Bytes at or
	// above it are rejected so every character is equally likely.
	nameRejectThreshold = 256 - 256%len(nameAlphabet)
)

// NameGenerator produces physical file names. It makes no uniqueness promise;
// IndexStore checks for collisions and retries.
type NameGenerator interface {
	Generate(length int) (string, error)
}

// NameGeneratorFunc adapts a function to NameGenerator.
type NameGeneratorFunc func(length int) (string, error)

// Generate calls f(length).
func (f NameGeneratorFunc) Generate(length int) (string, error) {
	return f(length)
}

// RandomNameGenerator draws names uniformly from [A-Za-z0-9].
type RandomNameGenerator struct {
	// Reader is the randomness source. Nil means crypto/rand.
	Reader io.Reader
}

// Generate returns length random alphanumeric characters. A zero length
// yields the empty name.
func (g RandomNameGenerator) Generate(length int) (string, error) {
	r := g.Reader
	if r == nil {
		r = rand.Reader
	}
	return alphanumericFrom(r, length)
}

// GenerateName returns a random alphanumeric name using crypto/rand.
func GenerateName(length int) (string, error) {
	return RandomNameGenerator{}.Generate(length)
}

// IsPhysicalName reports whether s has the shape of a vault file name.
func IsPhysicalName(s string) bool {
	if len(s) != PhysicalNameLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlphanumeric(s[i]) {
			return false
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// alphanumericFrom maps bytes from r onto nameAlphabet by rejection sampling.
// Used both for random names and for the key-derived index name.
func alphanumericFrom(r io.Reader, length int) (string, error) {
	if length < 0 {
		return "", NewValidationError("length", length, "name length cannot be negative")
	}
	if length == 0 {
		return "", nil
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+8)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= nameRejectThreshold {
				continue
			}
			out = append(out, nameAlphabet[int(b)%len(nameAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
