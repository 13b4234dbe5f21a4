package mediavault

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// FolderTokenPrefix marks a directory name produced by FolderNameCipher.
	FolderTokenPrefix = "mv1_"

	// MaxFolderNameLength is the longest plaintext folder name in bytes. It
	// keeps tokens under common 255-byte file name limits.
	MaxFolderNameLength = 160

	folderNonceSize = 12
	folderTagSize   = 16
)

var folderEncoding = base64.RawURLEncoding

// FolderNameCipher encrypts folder names into self-identifying tokens. Each
// call uses a fresh nonce, so the same name encrypts differently every time.
type FolderNameCipher struct {
	engine CipherEngine
}

// NewFolderNameCipher creates a cipher keyed by the folder-name subkey of
// vaultKey. vaultKey is not retained.
func NewFolderNameCipher(vaultKey *SecureBuffer, suite CipherSuite) (*FolderNameCipher, error) {
	engine, err := engineFromSubkey(vaultKey, nil, labelFolderNames, suite)
	if err != nil {
		return nil, fmt.Errorf("failed to create folder name cipher: %w", err)
	}
	return &FolderNameCipher{engine: engine}, nil
}

// EncryptName returns the token for plainName.
func (c *FolderNameCipher) EncryptName(plainName string) (string, error) {
	if err := ValidateFolderName(plainName); err != nil {
		return "", err
	}

	nonce, err := randomBytes(c.engine.NonceSize())
	if err != nil {
		return "", err
	}
	sealed, err := c.engine.Encrypt(nonce, []byte(plainName), []byte(FolderTokenPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt folder name: %w", err)
	}

	raw := make([]byte, 0, len(nonce)+len(sealed))
	raw = append(raw, nonce...)
	raw = append(raw, sealed...)
	return FolderTokenPrefix + folderEncoding.EncodeToString(raw), nil
}

// DecryptName recovers the plaintext name from a token. Any malformed or
// tampered token, and any token sealed under another key, fails with the
// same authentication error.
func (c *FolderNameCipher) DecryptName(token string) (string, error) {
	if !LooksLikeEncryptedFolder(token) {
		return "", NewAuthenticationError("", ErrAuthFailed)
	}
	raw, err := folderEncoding.DecodeString(strings.TrimPrefix(token, FolderTokenPrefix))
	if err != nil || len(raw) < c.engine.NonceSize()+c.engine.Overhead() {
		return "", NewAuthenticationError("", ErrAuthFailed)
	}

	n := c.engine.NonceSize()
	plain, err := c.engine.Decrypt(raw[:n], raw[n:], []byte(FolderTokenPrefix))
	if err != nil {
		return "", NewAuthenticationError("", ErrAuthFailed)
	}
	return string(plain), nil
}

// LooksLikeEncryptedFolder is a key-free structural check used to filter
// directory listings before attempting a real decrypt.
func LooksLikeEncryptedFolder(candidate string) bool {
	if !strings.HasPrefix(candidate, FolderTokenPrefix) {
		return false
	}
	body := candidate[len(FolderTokenPrefix):]
	if len(body) < minFolderTokenBody || len(body) > maxFolderTokenBody || len(body)%4 == 1 {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !isAlphanumeric(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

var (
	minFolderTokenBody = folderEncoding.EncodedLen(folderNonceSize + folderTagSize + 1)
	maxFolderTokenBody = folderEncoding.EncodedLen(folderNonceSize + folderTagSize + MaxFolderNameLength)
)

// ValidateFolderName checks a single plaintext folder name component.
func ValidateFolderName(name string) error {
	if name == "" {
		return NewValidationError("name", name, "folder name cannot be empty")
	}
	if len(name) > MaxFolderNameLength {
		return NewValidationError("name", len(name), fmt.Sprintf("folder name exceeds %d bytes", MaxFolderNameLength))
	}
	if !utf8.ValidString(name) {
		return NewValidationError("name", nil, "folder name must be valid UTF-8")
	}
	if strings.ContainsAny(name, "/\x00") {
		return NewValidationError("name", name, "folder name cannot contain '/' or NUL")
	}
	return nil
}
