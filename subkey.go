package mediavault

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

// HKDF info labels. Every key in the system is derived under exactly one.
const (
	labelVerifier    = "mediavault/v1/verifier"
	labelVaultKey    = "mediavault/v1/vault-key"
	labelFolderNames = "mediavault/v1/folder-names"
	labelContent     = "mediavault/v1/content"
	labelFileKey     = "mediavault/v1/file"
	labelIndexName   = "mediavault/v1/index-name"
)

// expand derives size bytes from secret under the given salt and label.
func expand(secret, salt []byte, label string, size int) ([]byte, error) {
	out := make([]byte, size)
	r := hkdf.New(sha256.New, secret, salt, []byte(label))
	if _, err := io.ReadFull(r, out); err != nil {
		memguard.WipeBytes(out)
		return nil, fmt.Errorf("failed to derive %s key: %w", label, err)
	}
	return out, nil
}

// deriveSubkey derives a purpose-bound subkey from a key held in a SecureBuffer.
func deriveSubkey(key *SecureBuffer, salt []byte, label string) (*SecureBuffer, error) {
	var sub []byte
	err := key.Use(func(k []byte) error {
		var err error
		sub, err = expand(k, salt, label, KeySize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wrapSecret(sub), nil
}

// engineFromSubkey builds a cipher engine keyed by a subkey of key. The subkey
// bytes are wiped once the engine holds its own schedule.
func engineFromSubkey(key *SecureBuffer, salt []byte, label string, suite CipherSuite) (CipherEngine, error) {
	sub, err := deriveSubkey(key, salt, label)
	if err != nil {
		return nil, err
	}
	defer sub.Wipe()

	var engine CipherEngine
	err = sub.Use(func(k []byte) error {
		var err error
		engine, err = NewCipherEngine(suite, k)
		return err
	})
	return engine, err
}

// derivedName maps a key to a stable 32-character alphanumeric name. The HKDF
// stream is uniform, so the result has the same distribution as a random
// physical name.
func derivedName(key *SecureBuffer) (string, error) {
	var name string
	err := key.Use(func(k []byte) error {
		var err error
		name, err = alphanumericFrom(hkdf.New(sha256.New, k, nil, []byte(labelIndexName)), PhysicalNameLength)
		return err
	})
	return name, err
}

func subtleEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
