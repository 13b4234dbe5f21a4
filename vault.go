package mediavault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
)

// VerifierFileName is the fixed name of the verifier record inside a vault
// directory. It is the only file whose name is not derived from a key.
const VerifierFileName = ".vault"

// Vault is one unlocked vault: its key, its ciphers and its IndexStore. A
// Vault is safe for concurrent use; Close locks it and wipes every key.
type Vault struct {
	storage Storage
	cfg     Config
	logger  zerolog.Logger

	mu      sync.RWMutex
	dir     string
	suite   CipherSuite
	key     *SecureBuffer
	folders *FolderNameCipher
	content *ContentCipher
	store   *IndexStore
}

// Create makes a new vault named displayName under parent and returns it
// unlocked. The directory name is the encrypted display name. password is
// wiped before Create returns.
func Create(ctx context.Context, storage Storage, parent, displayName string, password []byte, cfg Config) (*Vault, error) {
	defer memguard.WipeBytes(password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateFolderName(displayName); err != nil {
		return nil, err
	}

	deriver, err := NewKeyDeriver(cfg.KDF, cfg.Cipher)
	if err != nil {
		return nil, err
	}
	pw := CopyOf(password)
	defer pw.Wipe()

	rec, key, err := deriver.CreateVerifier(ctx, pw)
	if err != nil {
		return nil, err
	}
	defer rec.Wipe()

	v := newVault(storage, cfg, rec.Cipher)
	if err := v.create(ctx, parent, displayName, rec, key); err != nil {
		key.Wipe()
		return nil, err
	}
	return v, nil
}

func (v *Vault) create(ctx context.Context, parent, displayName string, rec *PasswordVerifier, key *SecureBuffer) error {
	folders, err := NewFolderNameCipher(key, v.suite)
	if err != nil {
		return err
	}
	token, err := folders.EncryptName(displayName)
	if err != nil {
		return err
	}
	dir := path.Join(parent, token)
	if err := v.storage.MkdirAll(dir, 0700); err != nil {
		return NewIOError("mkdir", dir, err)
	}
	if err := writeVerifier(v.storage, dir, rec); err != nil {
		return err
	}
	if err := v.unlock(ctx, dir, key); err != nil {
		return err
	}
	// An empty index file makes a fresh vault look like any used one.
	if err := v.store.Persist(ctx); err != nil {
		v.lock()
		return err
	}
	v.logger.Info().Str("dir", path.Base(dir)).Msg("vault_created")
	return nil
}

// Open unlocks the vault in dir. A wrong password yields an
// *AuthenticationError before anything else in the vault is read. password
// is wiped before Open returns.
func Open(ctx context.Context, storage Storage, dir string, password []byte, cfg Config) (*Vault, error) {
	defer memguard.WipeBytes(password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rec, err := readVerifier(storage, dir)
	if err != nil {
		return nil, err
	}
	defer rec.Wipe()

	deriver, err := NewKeyDeriver(cfg.KDF, rec.Cipher)
	if err != nil {
		return nil, err
	}
	pw := CopyOf(password)
	defer pw.Wipe()

	key, err := deriver.DeriveAndVerify(ctx, pw, rec)
	if err != nil {
		return nil, err
	}

	v := newVault(storage, cfg, rec.Cipher)
	if err := v.recover(ctx, dir, key); err != nil {
		key.Wipe()
		return nil, err
	}
	if err := v.unlock(ctx, dir, key); err != nil {
		key.Wipe()
		return nil, err
	}
	v.logger.Info().Str("dir", path.Base(dir)).Msg("vault_opened")
	return v, nil
}

// Discover lists the directories under parent that look like vaults. No key
// is needed; the check is structural.
func Discover(storage Storage, parent string) ([]string, error) {
	names, err := storage.ReadDirNames(parent)
	if err != nil {
		return nil, NewIOError("readdir", parent, err)
	}
	var out []string
	for _, name := range names {
		if !LooksLikeEncryptedFolder(name) {
			continue
		}
		dir := path.Join(parent, name)
		if ok, _ := exists(storage, path.Join(dir, VerifierFileName)); ok {
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	return out, nil
}

func newVault(storage Storage, cfg Config, suite CipherSuite) *Vault {
	logger := cfg.logger()
	return &Vault{
		storage: storage,
		cfg:     cfg,
		suite:   suite,
		logger:  logger.With().Str("component", "vault").Logger(),
	}
}

// unlock takes ownership of key and opens the ciphers and the index store.
func (v *Vault) unlock(ctx context.Context, dir string, key *SecureBuffer) error {
	folders, err := NewFolderNameCipher(key, v.suite)
	if err != nil {
		return err
	}
	content, err := NewContentCipher(key, v.suite, v.cfg.ChunkSize)
	if err != nil {
		return err
	}
	store := NewIndexStore(v.storage, IndexStoreConfig{
		Cipher:    v.suite,
		ChunkSize: v.cfg.ChunkSize,
		Names:     v.cfg.names(),
		Logger:    v.cfg.Logger,
	})
	if err := store.Open(ctx, key, dir); err != nil {
		content.Wipe()
		return err
	}

	v.dir = dir
	v.key = key
	v.folders = folders
	v.content = content
	v.store = store
	return nil
}

// lock wipes every key held by the vault.
func (v *Vault) lock() {
	if v.store != nil {
		_ = v.store.Close()
	}
	if v.content != nil {
		v.content.Wipe()
	}
	v.key.Wipe()
	v.key = nil
	v.folders = nil
	v.content = nil
	v.store = nil
}

// recover finishes or removes leftovers of interrupted writes in dir.
func (v *Vault) recover(ctx context.Context, dir string, key *SecureBuffer) error {
	if err := v.completePendingRekey(ctx, dir, key); err != nil {
		return err
	}
	if err := v.restoreIndex(ctx, dir, key); err != nil {
		return err
	}
	names, err := v.storage.ReadDirNames(dir)
	if err != nil {
		return NewIOError("readdir", dir, err)
	}
	for _, name := range names {
		if strings.Contains(name, tempSuffix) {
			if err := v.storage.Remove(path.Join(dir, name)); err != nil && !isNotExist(err) {
				return NewIOError("remove", name, err)
			}
			v.logger.Debug().Str("file", name).Msg("stale_temp_removed")
		}
	}
	return nil
}

// restoreIndex promotes the newest readable temp copy of the index when the
// index file itself is missing, so an interrupted replace never turns into an
// empty vault.
func (v *Vault) restoreIndex(ctx context.Context, dir string, key *SecureBuffer) error {
	indexName, err := IndexFileName(key)
	if err != nil {
		return err
	}
	target := path.Join(dir, indexName)
	if found, err := exists(v.storage, target); err != nil || found {
		return err
	}

	names, err := v.storage.ReadDirNames(dir)
	if err != nil {
		return NewIOError("readdir", dir, err)
	}
	content, err := NewContentCipher(key, v.suite, v.cfg.ChunkSize)
	if err != nil {
		return err
	}
	defer content.Wipe()

	var best string
	var bestTime time.Time
	for _, name := range names {
		if !strings.HasPrefix(name, indexName+tempSuffix) {
			continue
		}
		candidate := path.Join(dir, name)
		if _, err := readIndexFile(ctx, v.storage, content, candidate); err != nil {
			v.logger.Debug().Err(err).Str("file", name).Msg("index_temp_unreadable")
			continue
		}
		info, err := v.storage.Stat(candidate)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = name, info.ModTime()
		}
	}
	if best == "" {
		return nil
	}
	if err := v.storage.Rename(path.Join(dir, best), target); err != nil {
		return NewIOError("rename", best, err)
	}
	v.logger.Warn().Str("file", best).Msg("index_restored_from_temp")
	return nil
}

// acquire read-locks the vault and fails if it is closed.
func (v *Vault) acquire(op string) (func(), error) {
	v.mu.RLock()
	if v.key == nil {
		v.mu.RUnlock()
		return nil, NewStateError(op, ErrVaultClosed)
	}
	return v.mu.RUnlock, nil
}

// Dir returns the vault directory.
func (v *Vault) Dir() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dir
}

// Cipher returns the suite recorded in the vault's verifier.
func (v *Vault) Cipher() CipherSuite {
	return v.suite
}

// Index returns the vault's IndexStore for read access by callers such as a
// gallery view. Mutations should go through the Vault so content files and
// the index stay in step.
func (v *Vault) Index() *IndexStore {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.store
}

// Name decrypts the vault's display name from its directory name.
func (v *Vault) Name() (string, error) {
	release, err := v.acquire("name")
	if err != nil {
		return "", err
	}
	defer release()
	return v.folders.DecryptName(path.Base(v.dir))
}

// Rename changes the display name by moving the vault directory to a new
// token.
func (v *Vault) Rename(displayName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return NewStateError("rename", ErrVaultClosed)
	}
	token, err := v.folders.EncryptName(displayName)
	if err != nil {
		return err
	}
	newDir := path.Join(path.Dir(v.dir), token)
	if err := v.storage.Rename(v.dir, newDir); err != nil {
		return NewIOError("rename", v.dir, err)
	}
	v.store.relocate(newDir)
	v.dir = newDir
	return nil
}

// Import encrypts r into a new content file and records it in the index
// under folder. The content file is complete on disk before the index refers
// to it; if the index cannot be persisted the file is removed again.
func (v *Vault) Import(ctx context.Context, r io.Reader, fileType FileType, folder string) (IndexEntry, error) {
	release, err := v.acquire("import")
	if err != nil {
		return IndexEntry{}, err
	}
	defer release()

	if !fileType.Valid() {
		return IndexEntry{}, NewValidationError("fileType", fileType, "unknown file type")
	}
	if err := ValidateFolderPath(folder); err != nil {
		return IndexEntry{}, err
	}

	name, err := v.store.ReserveName()
	if err != nil {
		return IndexEntry{}, err
	}
	target := path.Join(v.dir, name)

	if err := writeEncrypted(ctx, v.storage, v.content, target, r); err != nil {
		v.store.ReleaseName(name)
		return IndexEntry{}, err
	}

	entry := NewIndexEntry(name, fileType, folder)
	if err := v.store.AddAndPersist(ctx, entry); err != nil {
		v.store.ReleaseName(name)
		_ = v.storage.Remove(target)
		return IndexEntry{}, err
	}

	v.logger.Info().Str("file", name).Stringer("type", fileType).Msg("entry_imported")
	return entry, nil
}

// entryReader closes both the decrypting reader and the underlying file.
type entryReader struct {
	*DecryptReader
	file File
}

// Read reports a locked vault once the key is gone.
func (r *entryReader) Read(p []byte) (int, error) {
	n, err := r.DecryptReader.Read(p)
	if err != nil && errors.Is(err, ErrBufferWiped) {
		return n, NewStateError("read entry", ErrVaultClosed)
	}
	return n, err
}

func (r *entryReader) Close() error {
	_ = r.DecryptReader.Close()
	return r.file.Close()
}

// OpenEntry returns a reader over the decrypted content of an entry. Reading
// fails with an authentication error at the first tampered chunk, and with
// ErrVaultClosed once the vault is closed.
func (v *Vault) OpenEntry(fileName string) (io.ReadCloser, IndexEntry, error) {
	release, err := v.acquire("open entry")
	if err != nil {
		return nil, IndexEntry{}, err
	}
	defer release()
	return v.openEntry(fileName)
}

func (v *Vault) openEntry(fileName string) (io.ReadCloser, IndexEntry, error) {
	entry, ok, err := v.store.Lookup(fileName)
	if err != nil {
		return nil, IndexEntry{}, err
	}
	if !ok {
		return nil, IndexEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, fileName)
	}

	rc, err := v.openContent(v.content, fileName)
	if err != nil {
		return nil, IndexEntry{}, err
	}
	return rc, entry, nil
}

func (v *Vault) openContent(content *ContentCipher, fileName string) (io.ReadCloser, error) {
	name := path.Join(v.dir, fileName)
	f, err := v.storage.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, NewIOError("open", name, err)
	}
	r, err := content.NewDecryptReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &entryReader{DecryptReader: r, file: f}, nil
}

// Export writes the decrypted content of an entry to w.
func (v *Vault) Export(ctx context.Context, fileName string, w io.Writer) (int64, error) {
	release, err := v.acquire("export")
	if err != nil {
		return 0, err
	}
	defer release()

	rc, _, err := v.openEntry(fileName)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return copyChunks(ctx, w, rc, v.content.ChunkSize())
}

// Size returns the plaintext size of an entry without decrypting it.
func (v *Vault) Size(fileName string) (int64, error) {
	release, err := v.acquire("size")
	if err != nil {
		return 0, err
	}
	defer release()

	if _, ok, err := v.store.Lookup(fileName); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEntryNotFound, fileName)
	}

	name := path.Join(v.dir, fileName)
	info, err := v.storage.Stat(name)
	if err != nil {
		return 0, NewIOError("stat", name, err)
	}
	f, err := v.storage.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return 0, NewIOError("open", name, err)
	}
	defer f.Close()
	h, _, err := ReadStreamHeader(f)
	if err != nil {
		return 0, err
	}
	return PlaintextSize(info.Size(), int(h.ChunkSize), aeadOverhead)
}

// Move changes the virtual folder of an entry and persists the index.
func (v *Vault) Move(ctx context.Context, fileName, folder string) error {
	release, err := v.acquire("move")
	if err != nil {
		return err
	}
	defer release()

	return v.store.MoveAndPersist(ctx, fileName, folder)
}

// Delete removes an entry from the index, persists the index, then removes
// the content file. A crash in between leaves an unreferenced content file,
// never an index entry without content.
func (v *Vault) Delete(ctx context.Context, fileName string) error {
	release, err := v.acquire("delete")
	if err != nil {
		return err
	}
	defer release()

	if _, err := v.store.RemoveAndPersist(ctx, fileName); err != nil {
		return err
	}

	name := path.Join(v.dir, fileName)
	if err := v.storage.Remove(name); err != nil && !isNotExist(err) {
		v.logger.Warn().Err(err).Str("file", fileName).Msg("content_remove_failed")
		return NewIOError("remove", name, err)
	}
	v.logger.Info().Str("file", fileName).Msg("entry_deleted")
	return nil
}

// List returns the entries directly in folder.
func (v *Vault) List(folder string) ([]IndexEntry, error) {
	release, err := v.acquire("list")
	if err != nil {
		return nil, err
	}
	defer release()
	return v.store.ListByFolder(folder)
}

// Folders returns every non-root folder that holds at least one entry.
func (v *Vault) Folders() ([]string, error) {
	release, err := v.acquire("folders")
	if err != nil {
		return nil, err
	}
	defer release()
	return v.store.Folders()
}

// Close locks the vault: the index store is closed and every key is wiped.
// Closing a closed vault is a no-op.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return nil
	}
	v.lock()
	v.logger.Info().Msg("vault_locked")
	return nil
}

func writeVerifier(storage Storage, dir string, rec *PasswordVerifier) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return writeFileAtomic(storage, path.Join(dir, VerifierFileName), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func readVerifier(storage Storage, dir string) (*PasswordVerifier, error) {
	name := path.Join(dir, VerifierFileName)
	data, err := readFile(storage, name)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotAVault, dir)
		}
		return nil, NewIOError("read", name, err)
	}
	rec := &PasswordVerifier{}
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to read verifier: %w", err)
	}
	return rec, nil
}
