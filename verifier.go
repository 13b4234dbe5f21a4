package mediavault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
)

const (
	// VerifierMagic identifies a password verifier record (ASCII: "MVPV")
	VerifierMagic = uint32(0x4D565056)

	// VerifierVersion is the current verifier record version
	VerifierVersion = uint8(1)

	// VerifierSize is the fixed encoded size of a verifier record:
	// 4 (magic) + 1 (version) + 1 (cipher) + 4 (memory) + 4 (iterations)
	// + 1 (parallelism) + 32 (salt) + 32 (hash) = 79 bytes
	VerifierSize = 4 + 1 + 1 + 4 + 4 + 1 + SaltSize + KeySize
)

// PasswordVerifier is the persisted proof of a vault password. It holds the
// derivation parameters, a random salt and a hash derived from the password;
// the password itself is never stored.
type PasswordVerifier struct {
	Cipher CipherSuite
	Params Argon2idParams
	Salt   []byte
	Hash   []byte
}

// MarshalBinary encodes the record in its fixed-length form.
func (v *PasswordVerifier) MarshalBinary() ([]byte, error) {
	if len(v.Salt) != SaltSize {
		return nil, NewValidationError("salt", len(v.Salt), fmt.Sprintf("salt must be %d bytes", SaltSize))
	}
	if len(v.Hash) != KeySize {
		return nil, NewValidationError("hash", len(v.Hash), fmt.Sprintf("hash must be %d bytes", KeySize))
	}

	buf := bytes.NewBuffer(make([]byte, 0, VerifierSize))
	fields := []any{
		VerifierMagic,
		VerifierVersion,
		v.Cipher.Resolve(),
		v.Params.Memory,
		v.Params.Iterations,
		v.Params.Parallelism,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("failed to write verifier field: %w", err)
		}
	}
	buf.Write(v.Salt)
	buf.Write(v.Hash)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (v *PasswordVerifier) UnmarshalBinary(data []byte) error {
	if len(data) != VerifierSize {
		return fmt.Errorf("%w: verifier must be %d bytes, got %d", ErrInvalidHeader, VerifierSize, len(data))
	}

	r := bytes.NewReader(data)
	var magic uint32
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if magic != VerifierMagic {
		return ErrInvalidHeader
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != VerifierVersion {
		return ErrUnsupportedVersion
	}

	var rec PasswordVerifier
	for _, f := range []any{&rec.Cipher, &rec.Params.Memory, &rec.Params.Iterations, &rec.Params.Parallelism} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("failed to read verifier field: %w", err)
		}
	}
	if !rec.Cipher.Valid() || rec.Cipher == CipherAuto {
		return ErrUnsupportedCipher
	}

	rec.Salt = make([]byte, SaltSize)
	rec.Hash = make([]byte, KeySize)
	if _, err := io.ReadFull(r, rec.Salt); err != nil {
		return fmt.Errorf("failed to read salt: %w", err)
	}
	if _, err := io.ReadFull(r, rec.Hash); err != nil {
		return fmt.Errorf("failed to read hash: %w", err)
	}

	*v = rec
	return nil
}

// Wipe zeroes the salt and hash.
func (v *PasswordVerifier) Wipe() {
	if v == nil {
		return
	}
	memguard.WipeBytes(v.Salt)
	memguard.WipeBytes(v.Hash)
}
