package mediavault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// StreamMagic identifies an encrypted content stream (ASCII: "MVCS")
	StreamMagic = uint32(0x4D564353)

	// StreamVersion is the current content stream format version
	StreamVersion = uint8(1)

	// NoncePrefixSize is the random part of every chunk nonce. The remaining
	// five bytes of a 12-byte nonce hold the chunk counter and the final flag.
	NoncePrefixSize = 7

	// StreamHeaderSize is the fixed size of the stream header:
	// 4 (magic) + 1 (version) + 1 (cipher) + 4 (chunk size) + 32 (salt) + 7 (nonce prefix)
	StreamHeaderSize = 4 + 1 + 1 + 4 + SaltSize + NoncePrefixSize
)

// StreamHeader is written once at the start of every content stream. Its
// encoded bytes are the associated data of every chunk, so any change to it
// fails authentication of the first chunk.
type StreamHeader struct {
	Cipher      CipherSuite
	ChunkSize   uint32
	Salt        [SaltSize]byte
	NoncePrefix [NoncePrefixSize]byte
}

// newStreamHeader creates a header with a fresh salt and nonce prefix.
func newStreamHeader(suite CipherSuite, chunkSize int) (*StreamHeader, error) {
	h := &StreamHeader{
		Cipher:    suite.Resolve(),
		ChunkSize: uint32(chunkSize),
	}
	random, err := randomBytes(SaltSize + NoncePrefixSize)
	if err != nil {
		return nil, err
	}
	copy(h.Salt[:], random[:SaltSize])
	copy(h.NoncePrefix[:], random[SaltSize:])
	return h, nil
}

// MarshalBinary encodes the header.
func (h *StreamHeader) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, StreamHeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, StreamMagic); err != nil {
		return nil, fmt.Errorf("failed to write magic bytes: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, StreamVersion); err != nil {
		return nil, fmt.Errorf("failed to write version: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, h.Cipher); err != nil {
		return nil, fmt.Errorf("failed to write cipher: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, h.ChunkSize); err != nil {
		return nil, fmt.Errorf("failed to write chunk size: %w", err)
	}
	buf.Write(h.Salt[:])
	buf.Write(h.NoncePrefix[:])
	return buf.Bytes(), nil
}

// ReadStreamHeader reads and validates a header. It returns the parsed header
// and the exact bytes read, which serve as associated data.
func ReadStreamHeader(r io.Reader) (*StreamHeader, []byte, error) {
	raw := make([]byte, StreamHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil, fmt.Errorf("%w: short stream header", ErrTruncatedStream)
		}
		return nil, nil, fmt.Errorf("failed to read stream header: %w", err)
	}

	if binary.LittleEndian.Uint32(raw[0:4]) != StreamMagic {
		return nil, nil, ErrInvalidHeader
	}
	if raw[4] != StreamVersion {
		return nil, nil, ErrUnsupportedVersion
	}

	h := &StreamHeader{
		Cipher:    CipherSuite(raw[5]),
		ChunkSize: binary.LittleEndian.Uint32(raw[6:10]),
	}
	copy(h.Salt[:], raw[10:10+SaltSize])
	copy(h.NoncePrefix[:], raw[10+SaltSize:])

	if err := h.Validate(); err != nil {
		return nil, nil, err
	}
	return h, raw, nil
}

// Validate checks the header fields.
func (h *StreamHeader) Validate() error {
	if h.Cipher != CipherAES256GCM && h.Cipher != CipherChaCha20Poly1305 {
		return fmt.Errorf("%w: %w", ErrInvalidHeader, ErrUnsupportedCipher)
	}
	if err := ValidateChunkSize(int(h.ChunkSize)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	return nil
}

// chunkNonce builds prefix || counter (big endian) || final flag.
func chunkNonce(prefix [NoncePrefixSize]byte, counter uint32, final bool) []byte {
	nonce := make([]byte, NoncePrefixSize+5)
	copy(nonce, prefix[:])
	binary.BigEndian.PutUint32(nonce[NoncePrefixSize:], counter)
	if final {
		nonce[NoncePrefixSize+4] = 1
	}
	return nonce
}

// CiphertextSize returns the encoded size of a plaintextSize-byte stream.
func CiphertextSize(plaintextSize int64, chunkSize int, overhead int) int64 {
	chunks := plaintextSize / int64(chunkSize)
	if plaintextSize%int64(chunkSize) != 0 || plaintextSize == 0 {
		chunks++
	}
	return StreamHeaderSize + plaintextSize + chunks*int64(overhead)
}

// PlaintextSize returns the plaintext length of a well-formed stream of
// ciphertextSize bytes.
func PlaintextSize(ciphertextSize int64, chunkSize int, overhead int) (int64, error) {
	body := ciphertextSize - StreamHeaderSize
	if body < int64(overhead) {
		return 0, ErrTruncatedStream
	}
	full := int64(chunkSize + overhead)
	chunks := body / full
	rest := body % full
	if rest == 0 {
		// Exact multiple: the last full chunk is the final one.
		return chunks * int64(chunkSize), nil
	}
	if rest < int64(overhead) {
		return 0, ErrTruncatedStream
	}
	return chunks*int64(chunkSize) + rest - int64(overhead), nil
}
