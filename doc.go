// Package mediavault is the engine of a local, password-protected media
// vault. Files are stored on an untrusted filesystem under random physical
// names, their logical names and folders live only in an encrypted index,
// and the vault directory itself is named by an encrypted token.
//
// # Overview
//
// A vault is a directory on a Storage:
//
//	<parent>/mv1_<token>/      encrypted display name
//	    .vault                 password verifier (salt, hash, KDF parameters)
//	    <32 alphanumerics>     the index, named from the vault key
//	    <32 alphanumerics>     one file per imported item
//
// Opening a vault derives a master secret from the password with Argon2id.
// HKDF-SHA256 splits it into the verification hash and the vault key, and
// the vault key into independent subkeys for folder names, content and the
// index file name.
//
// # Cipher Suites
//
//   - AES-256-GCM (default)
//   - ChaCha20-Poly1305
//
// # Content Streams
//
// File bodies are encrypted as a stream of fixed-size chunks. Each stream
// has a random header holding a salt for its own key and a nonce prefix.
// Every chunk nonce carries the chunk counter and a final-chunk flag, and the
// header is authenticated with every chunk:
//
//	header | chunk 0 | chunk 1 | ... | final chunk
//
// Reordered, spliced, truncated or modified streams fail authentication, and
// a reader never returns plaintext from a chunk that did not verify.
//
// # Basic Usage
//
//	storage := mediavault.NewDirStorage("/data")
//	cfg := mediavault.DefaultConfig()
//
//	v, err := mediavault.Create(ctx, storage, "vaults", "Holiday", []byte("p@ss"), cfg)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
//
//	entry, err := v.Import(ctx, photo, mediavault.FileTypeImage, "2024/beach")
//	entries, err := v.List("2024/beach")
//
// # Security Considerations
//
// Protected against:
//   - Reading content, file names or folder names without the password
//   - Tampering with content, the index or folder tokens
//   - Offline brute force, within the cost of the Argon2id parameters
//   - A crash while writing the index or a content file
//
// Not protected against:
//   - File sizes and file counts, which remain visible
//   - An attacker with access to process memory while the vault is open
//   - Weak passwords
package mediavault
