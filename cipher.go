package mediavault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// aeadOverhead is the tag size of every supported suite.
const aeadOverhead = 16

// CipherEngine provides AEAD encryption/decryption
type CipherEngine interface {
	// Encrypt seals plaintext with the given nonce and associated data
	Encrypt(nonce, plaintext, additionalData []byte) ([]byte, error)

	// Decrypt opens ciphertext with the given nonce and associated data
	Decrypt(nonce, ciphertext, additionalData []byte) ([]byte, error)

	// NonceSize returns the size of nonces in bytes
	NonceSize() int

	// Overhead returns the authentication tag size
	Overhead() int
}

// aeadEngine implements CipherEngine over any cipher.AEAD
type aeadEngine struct {
	aead cipher.AEAD
}

func (e *aeadEngine) Encrypt(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, additionalData), nil
}

func (e *aeadEngine) Decrypt(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *aeadEngine) NonceSize() int {
	return e.aead.NonceSize()
}

func (e *aeadEngine) Overhead() int {
	return e.aead.Overhead()
}

// AESGCMEngine implements CipherEngine using AES-256-GCM
type AESGCMEngine struct {
	aeadEngine
}

// NewAESGCMEngine creates a new AES-256-GCM cipher engine. The key slice is
// not retained.
func NewAESGCMEngine(key []byte) (*AESGCMEngine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("AES-256 requires a %d-byte key, got %d bytes", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMEngine{aeadEngine{aead: aead}}, nil
}

// ChaCha20Poly1305Engine implements CipherEngine using ChaCha20-Poly1305
type ChaCha20Poly1305Engine struct {
	aeadEngine
}

// NewChaCha20Poly1305Engine creates a new ChaCha20-Poly1305 cipher engine.
// The key slice is not retained.
func NewChaCha20Poly1305Engine(key []byte) (*ChaCha20Poly1305Engine, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("ChaCha20-Poly1305 requires a %d-byte key, got %d bytes",
			chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}

	return &ChaCha20Poly1305Engine{aeadEngine{aead: aead}}, nil
}

// NewCipherEngine creates a new cipher engine based on the cipher suite
func NewCipherEngine(suite CipherSuite, key []byte) (CipherEngine, error) {
	switch suite.Resolve() {
	case CipherAES256GCM:
		return NewAESGCMEngine(key)
	case CipherChaCha20Poly1305:
		return NewChaCha20Poly1305Engine(key)
	default:
		return nil, ErrUnsupportedCipher
	}
}

// randomBytes returns n bytes from crypto/rand
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
