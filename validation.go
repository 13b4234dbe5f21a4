package mediavault

import (
	"fmt"
	"strings"
)

// Input validation helpers

// ValidateSize checks if a size parameter is valid
func ValidateSize(size int, name string, minSize, maxSize int) error {
	if size < 0 {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: "size cannot be negative",
		}
	}
	if minSize >= 0 && size < minSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too small: got %d, minimum is %d", size, minSize),
		}
	}
	if maxSize > 0 && size > maxSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too large: got %d, maximum is %d", size, maxSize),
		}
	}
	return nil
}

// ValidateChunkSize checks a content stream chunk size
func ValidateChunkSize(size int) error {
	return ValidateSize(size, "chunkSize", MinChunkSize, MaxChunkSize)
}

// ValidateKey checks that a vault key is live and has the right length
func ValidateKey(key *SecureBuffer) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
		}
	}
	if key.IsWiped() {
		return NewStateError("key", ErrBufferWiped)
	}
	if key.Len() != KeySize {
		return &ValidationError{
			Field:   "key",
			Value:   key.Len(),
			Message: fmt.Sprintf("key must be %d bytes", KeySize),
		}
	}
	return nil
}

// ValidatePhysicalName checks the shape of an on-disk file name
func ValidatePhysicalName(name string) error {
	if !IsPhysicalName(name) {
		return &ValidationError{
			Field:   "fileName",
			Value:   name,
			Message: fmt.Sprintf("physical name must be %d alphanumeric characters", PhysicalNameLength),
		}
	}
	return nil
}

// ValidateFolderPath checks every component of a virtual folder path. The
// empty path (root) is valid.
func ValidateFolderPath(p string) error {
	p = NormalizeFolderPath(p)
	if p == "" {
		return nil
	}
	for _, part := range strings.Split(p, "/") {
		if err := ValidateFolderName(part); err != nil {
			return err
		}
	}
	return nil
}
