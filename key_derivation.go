package mediavault

import (
	"context"
	"errors"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
)

// KeyDeriver turns passwords into vault keys with Argon2id. The parameters
// are fixed for the lifetime of a deriver; verifiers written under any other
// parameters are rejected rather than silently re-derived.
type KeyDeriver struct {
	params Argon2idParams
	suite  CipherSuite
}

// NewKeyDeriver creates a deriver for the given cost parameters and suite.
func NewKeyDeriver(params Argon2idParams, suite CipherSuite) (*KeyDeriver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !suite.Valid() {
		return nil, ErrUnsupportedCipher
	}
	return &KeyDeriver{params: params, suite: suite.Resolve()}, nil
}

// Params returns the configured derivation parameters.
func (k *KeyDeriver) Params() Argon2idParams {
	return k.params
}

// CreateVerifier derives a fresh verifier and the matching vault key from
// password. The caller persists the verifier and owns the returned key.
func (k *KeyDeriver) CreateVerifier(ctx context.Context, password *SecureBuffer) (*PasswordVerifier, *SecureBuffer, error) {
	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, nil, err
	}

	master, err := k.master(ctx, password, salt)
	if err != nil {
		return nil, nil, err
	}
	defer master.Wipe()

	hash, key, err := splitMaster(master)
	if err != nil {
		return nil, nil, err
	}
	defer hash.Wipe()

	hashCopy, err := hash.Copy()
	if err != nil {
		key.Wipe()
		return nil, nil, err
	}

	return &PasswordVerifier{
		Cipher: k.suite,
		Params: k.params,
		Salt:   salt,
		Hash:   hashCopy,
	}, key, nil
}

// DeriveAndVerify re-derives from password and the verifier's salt and
// compares hashes in constant time. On success the vault key is returned; any
// mismatch is reported as a generic authentication failure.
func (k *KeyDeriver) DeriveAndVerify(ctx context.Context, password *SecureBuffer, v *PasswordVerifier) (*SecureBuffer, error) {
	if v == nil {
		return nil, NewValidationError("verifier", nil, "verifier cannot be nil")
	}
	if v.Params != k.params || v.Cipher.Resolve() != k.suite {
		return nil, ErrParamsMismatch
	}
	if len(v.Salt) != SaltSize || len(v.Hash) != KeySize {
		return nil, NewAuthenticationError("", ErrAuthFailed)
	}

	master, err := k.master(ctx, password, v.Salt)
	if err != nil {
		return nil, err
	}
	defer master.Wipe()

	hash, key, err := splitMaster(master)
	if err != nil {
		return nil, err
	}
	defer hash.Wipe()

	match := false
	_ = hash.Use(func(h []byte) error {
		match = subtleEqual(h, v.Hash)
		return nil
	})
	if !match {
		key.Wipe()
		return nil, NewAuthenticationError("", ErrAuthFailed)
	}
	return key, nil
}

// master runs Argon2id on a separate goroutine so a cancelled caller returns
// promptly. An abandoned computation wipes its own inputs and output when it
// finishes.
func (k *KeyDeriver) master(ctx context.Context, password *SecureBuffer, salt []byte) (*SecureBuffer, error) {
	if password == nil {
		return nil, NewValidationError("password", nil, "password cannot be nil")
	}
	pw, err := password.Copy()
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, NewValidationError("password", 0, "password cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		memguard.WipeBytes(pw)
		return nil, err
	}

	saltCopy := append([]byte(nil), salt...)
	params := k.params
	done := make(chan []byte, 1)
	go func() {
		out := argon2.IDKey(pw, saltCopy, params.Iterations, params.Memory, params.Parallelism, KeySize)
		memguard.WipeBytes(pw)
		done <- out
	}()

	select {
	case out := <-done:
		return wrapSecret(out), nil
	case <-ctx.Done():
		go func() {
			memguard.WipeBytes(<-done)
		}()
		return nil, ctx.Err()
	}
}

// splitMaster derives the verification hash and the vault key as separate
// HKDF outputs of one master secret.
func splitMaster(master *SecureBuffer) (hash, key *SecureBuffer, err error) {
	hash, err = deriveSubkey(master, nil, labelVerifier)
	if err != nil {
		return nil, nil, err
	}
	key, err = deriveSubkey(master, nil, labelVaultKey)
	if err != nil {
		hash.Wipe()
		return nil, nil, err
	}
	return hash, key, nil
}

// IsAuthFailure reports whether err is a generic authentication failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
