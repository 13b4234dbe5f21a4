package mediavault

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/awnumar/memguard"
)

// ContentCipher encrypts and decrypts file bodies as chunked AEAD streams.
// Every stream gets its own key, derived from the content subkey and the
// random salt in its header. Chunks are bound to their position and to
// whether they are last, so reordering, splicing and truncation are detected.
type ContentCipher struct {
	key       *SecureBuffer
	suite     CipherSuite
	chunkSize int
}

// NewContentCipher creates a content cipher from vaultKey. The cipher keeps
// its own subkey; vaultKey is not retained.
func NewContentCipher(vaultKey *SecureBuffer, suite CipherSuite, chunkSize int) (*ContentCipher, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if err := ValidateChunkSize(chunkSize); err != nil {
		return nil, err
	}
	if !suite.Valid() {
		return nil, ErrUnsupportedCipher
	}
	key, err := deriveSubkey(vaultKey, nil, labelContent)
	if err != nil {
		return nil, fmt.Errorf("failed to create content cipher: %w", err)
	}
	return &ContentCipher{key: key, suite: suite.Resolve(), chunkSize: chunkSize}, nil
}

// ChunkSize returns the plaintext chunk size used for new streams.
func (c *ContentCipher) ChunkSize() int {
	return c.chunkSize
}

// Wipe destroys the content subkey. The cipher is unusable afterwards.
func (c *ContentCipher) Wipe() {
	c.key.Wipe()
}

func (c *ContentCipher) fileEngine(h *StreamHeader) (CipherEngine, error) {
	return engineFromSubkey(c.key, h.Salt[:], labelFileKey, h.Cipher)
}

// EncryptingStream starts a new stream and returns its header bytes and a
// writer producing the chunk ciphertext only. The caller persists the header
// followed by everything written to dst.
func (c *ContentCipher) EncryptingStream(dst io.Writer) ([]byte, *EncryptWriter, error) {
	h, err := newStreamHeader(c.suite, c.chunkSize)
	if err != nil {
		return nil, nil, err
	}
	raw, err := h.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	engine, err := c.fileEngine(h)
	if err != nil {
		return nil, nil, err
	}
	return raw, &EncryptWriter{
		owner:     c.key,
		dst:       dst,
		engine:    engine,
		prefix:    h.NoncePrefix,
		ad:        raw,
		chunkSize: c.chunkSize,
		buf:       make([]byte, 0, c.chunkSize),
	}, nil
}

// NewEncryptWriter writes a stream header to dst and returns a writer for the
// plaintext body. Close must be called to emit the final chunk.
func (c *ContentCipher) NewEncryptWriter(dst io.Writer) (*EncryptWriter, error) {
	header, w, err := c.EncryptingStream(dst)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(header); err != nil {
		w.discard()
		return nil, NewIOError("write", "", err)
	}
	return w, nil
}

// DecryptingStream returns a reader over a body whose header was persisted
// separately.
func (c *ContentCipher) DecryptingStream(header []byte, src io.Reader) (*DecryptReader, error) {
	h, raw, err := ReadStreamHeader(bytes.NewReader(header))
	if err != nil {
		return nil, err
	}
	return c.newDecryptReader(h, raw, src)
}

// NewDecryptReader reads the header from src and returns a reader over the
// decrypted body.
func (c *ContentCipher) NewDecryptReader(src io.Reader) (*DecryptReader, error) {
	h, raw, err := ReadStreamHeader(src)
	if err != nil {
		return nil, err
	}
	return c.newDecryptReader(h, raw, src)
}

func (c *ContentCipher) newDecryptReader(h *StreamHeader, raw []byte, src io.Reader) (*DecryptReader, error) {
	engine, err := c.fileEngine(h)
	if err != nil {
		return nil, err
	}
	return &DecryptReader{
		owner:  c.key,
		src:    bufio.NewReader(src),
		engine: engine,
		prefix: h.NoncePrefix,
		ad:     raw,
		cbuf:   make([]byte, int(h.ChunkSize)+engine.Overhead()),
	}, nil
}

// Encrypt copies src into dst as an encrypted stream, checking ctx between
// chunks. An interrupted stream is incomplete and must be discarded.
func (c *ContentCipher) Encrypt(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	w, err := c.NewEncryptWriter(dst)
	if err != nil {
		return 0, err
	}
	n, err := copyChunks(ctx, w, src, c.chunkSize)
	if err != nil {
		w.discard()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Decrypt copies the plaintext of the stream in src into dst.
func (c *ContentCipher) Decrypt(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	r, err := c.NewDecryptReader(src)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return copyChunks(ctx, dst, r, c.chunkSize)
}

// PlaintextSize returns the plaintext length for a stream of ciphertextSize
// bytes written by this cipher.
func (c *ContentCipher) PlaintextSize(ciphertextSize int64) (int64, error) {
	return PlaintextSize(ciphertextSize, c.chunkSize, aeadOverhead)
}

// EncryptWriter buffers plaintext into chunks and seals them. A full chunk is
// only sealed once more data arrives, so the last chunk can carry the final
// flag.
type EncryptWriter struct {
	owner     *SecureBuffer
	dst       io.Writer
	engine    CipherEngine
	prefix    [NoncePrefixSize]byte
	ad        []byte
	chunkSize int
	buf       []byte
	counter   uint32
	closed    bool
	err       error
}

// Write buffers p, sealing every chunk that is known not to be the last.
func (w *EncryptWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write to closed encrypt writer")
	}
	if w.err != nil {
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		if len(w.buf) == w.chunkSize {
			if err := w.seal(false); err != nil {
				return written, err
			}
		}
		n := copy(w.buf[len(w.buf):w.chunkSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

// Close seals the final chunk, which may be empty. It does not close the
// underlying writer.
func (w *EncryptWriter) Close() error {
	if w.closed {
		return w.err
	}
	if w.err == nil {
		w.err = w.seal(true)
	}
	w.discard()
	return w.err
}

func (w *EncryptWriter) seal(final bool) error {
	if w.owner.IsWiped() {
		w.err = NewStateError("encrypt", ErrBufferWiped)
		return w.err
	}
	if !final && w.counter == math.MaxUint32 {
		w.err = NewEncryptionError("encrypt", "", w.counter, ErrStreamTooLong)
		return w.err
	}
	ct, err := w.engine.Encrypt(chunkNonce(w.prefix, w.counter, final), w.buf, w.ad)
	memguard.WipeBytes(w.buf)
	w.buf = w.buf[:0]
	if err != nil {
		w.err = NewEncryptionError("encrypt", "", w.counter, err)
		return w.err
	}
	if _, err := w.dst.Write(ct); err != nil {
		w.err = NewIOError("write", "", err)
		return w.err
	}
	w.counter++
	return nil
}

// discard wipes buffered plaintext and marks the writer closed.
func (w *EncryptWriter) discard() {
	memguard.WipeBytes(w.buf[:cap(w.buf)])
	w.buf = w.buf[:0]
	w.closed = true
}

// DecryptReader yields plaintext one authenticated chunk at a time. The first
// failure is sticky: no further plaintext is returned after it. Wiping the
// ContentCipher that created the reader stops it at the next Read.
type DecryptReader struct {
	owner   *SecureBuffer
	src     *bufio.Reader
	engine  CipherEngine
	prefix  [NoncePrefixSize]byte
	ad      []byte
	cbuf    []byte
	plain   []byte
	pos     int
	counter uint32
	done    bool
	err     error
}

// Read implements io.Reader.
func (r *DecryptReader) Read(p []byte) (int, error) {
	if r.err == nil && r.owner.IsWiped() {
		r.release()
		r.err = NewStateError("decrypt", ErrBufferWiped)
	}
	for r.pos >= len(r.plain) {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		r.err = r.next()
	}
	n := copy(p, r.plain[r.pos:])
	r.pos += n
	return n, nil
}

// next reads and opens one chunk. A chunk is final when it is short or when
// nothing follows it.
func (r *DecryptReader) next() error {
	r.release()

	n, err := io.ReadFull(r.src, r.cbuf)
	final := false
	switch {
	case err == io.EOF:
		return NewEncryptionError("decrypt", "", r.counter, ErrTruncatedStream)
	case err == io.ErrUnexpectedEOF:
		final = true
	case err != nil:
		return NewIOError("read", "", err)
	default:
		if _, perr := r.src.Peek(1); perr == io.EOF {
			final = true
		} else if perr != nil {
			return NewIOError("read", "", perr)
		}
	}

	if n < r.engine.Overhead() {
		return NewEncryptionError("decrypt", "", r.counter, ErrTruncatedStream)
	}
	plain, err := r.engine.Decrypt(chunkNonce(r.prefix, r.counter, final), r.cbuf[:n], r.ad)
	if err != nil {
		return NewChunkAuthenticationError(r.counter)
	}
	if !final && r.counter == math.MaxUint32 {
		memguard.WipeBytes(plain)
		return NewEncryptionError("decrypt", "", r.counter, ErrStreamTooLong)
	}

	r.plain = plain
	r.pos = 0
	r.counter++
	r.done = final
	return nil
}

func (r *DecryptReader) release() {
	memguard.WipeBytes(r.plain)
	r.plain = nil
	r.pos = 0
}

// Close wipes any buffered plaintext. It does not close the source.
func (r *DecryptReader) Close() error {
	r.release()
	if r.err == nil {
		r.err = errors.New("read from closed decrypt reader")
	}
	return nil
}

// copyChunks copies src to dst in chunkSize pieces, checking ctx in between.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	buf := make([]byte, chunkSize)
	defer memguard.WipeBytes(buf)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
