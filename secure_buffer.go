package mediavault

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer owns a piece of secret material (a password, a derived key, a
// verification hash). Once wiped the backing array is zero-filled and every
// accessor fails with ErrBufferWiped.
//
// A SecureBuffer never hands out its backing array implicitly: Copy and CopyTo
// return independent bytes, while Use and Bytes give scoped raw access that the
// caller must not retain.
type SecureBuffer struct {
	mu    sync.Mutex
	data  []byte
	wiped bool
}

// NewSecureBuffer returns a zero-filled buffer of the given size.
func NewSecureBuffer(size int) *SecureBuffer {
	if size < 0 {
		size = 0
	}
	return &SecureBuffer{data: make([]byte, size)}
}

// CopyOf takes an independent copy of src. The caller remains responsible for
// src.
func CopyOf(src []byte) *SecureBuffer {
	data := make([]byte, len(src))
	copy(data, src)
	return &SecureBuffer{data: data}
}

// wrapSecret takes ownership of b without copying. Only for freshly derived
// material that has no other reference.
func wrapSecret(b []byte) *SecureBuffer {
	return &SecureBuffer{data: b}
}

// Len returns the buffer length. The length survives a wipe.
func (b *SecureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// CopyTo copies count bytes starting at srcOff into dst at dstOff.
func (b *SecureBuffer) CopyTo(dst []byte, srcOff, dstOff, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return NewStateError("copy", ErrBufferWiped)
	}
	if srcOff < 0 || dstOff < 0 || count < 0 {
		return &ValidationError{
			Field:   "offset",
			Value:   fmt.Sprintf("src=%d dst=%d count=%d", srcOff, dstOff, count),
			Message: "offsets and count cannot be negative",
		}
	}
	if srcOff > len(b.data)-count {
		return &ValidationError{
			Field:   "srcOffset",
			Value:   srcOff,
			Message: fmt.Sprintf("source range [%d, %d) exceeds buffer length %d", srcOff, srcOff+count, len(b.data)),
		}
	}
	if dstOff > len(dst)-count {
		return &ValidationError{
			Field:   "dstOffset",
			Value:   dstOff,
			Message: fmt.Sprintf("destination range [%d, %d) exceeds destination length %d", dstOff, dstOff+count, len(dst)),
		}
	}

	copy(dst[dstOff:dstOff+count], b.data[srcOff:srcOff+count])
	return nil
}

// Copy returns an independent copy of the whole buffer.
func (b *SecureBuffer) Copy() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return nil, NewStateError("copy", ErrBufferWiped)
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// Clone returns a new SecureBuffer with its own copy of the data. Components
// that outlive the caller's buffer hold a clone so each secret keeps a single
// owner.
func (b *SecureBuffer) Clone() (*SecureBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return nil, NewStateError("clone", ErrBufferWiped)
	}
	return CopyOf(b.data), nil
}

// Use runs fn with the raw backing array while holding the buffer lock. fn must
// not retain the slice.
func (b *SecureBuffer) Use(fn func(data []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return NewStateError("use", ErrBufferWiped)
	}
	return fn(b.data)
}

// Bytes returns the backing array. The slice is only valid until Wipe.
func (b *SecureBuffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return nil, NewStateError("bytes", ErrBufferWiped)
	}
	return b.data, nil
}

// Equal reports whether both buffers hold the same bytes. Wiped buffers are
// never equal.
func (b *SecureBuffer) Equal(other *SecureBuffer) bool {
	if b == nil || other == nil {
		return false
	}
	x, err := b.Copy()
	if err != nil {
		return false
	}
	defer memguard.WipeBytes(x)
	equal := false
	_ = other.Use(func(y []byte) error {
		equal = subtleEqual(x, y)
		return nil
	})
	return equal
}

// Wipe zeroes the buffer and marks it unusable. Safe to call more than once
// and on a nil buffer.
func (b *SecureBuffer) Wipe() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return
	}
	memguard.WipeBytes(b.data)
	b.wiped = true
}

// IsWiped reports whether Wipe has been called.
func (b *SecureBuffer) IsWiped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wiped
}
