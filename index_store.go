package mediavault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
)

// StoreState is the lifecycle state of an IndexStore.
type StoreState int

const (
	StateClosed StoreState = iota
	StateLoading
	StateReady
)

func (s StoreState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("StoreState(%d)", int(s))
	}
}

// MaxNameAttempts bounds ReserveName's collision retries.
const MaxNameAttempts = 16

// IndexStoreConfig configures an IndexStore.
type IndexStoreConfig struct {
	Cipher    CipherSuite
	ChunkSize int
	Names     NameGenerator
	Logger    *zerolog.Logger
}

// IndexStore owns the Index of one open vault. It loads the encrypted index
// file on Open, serves lookups from memory, and writes the whole index back
// on Persist with an atomic replace.
//
// Mutations and Persist are serialized by writeMu. The map is guarded by mu,
// which writers hold only to read or swap the index, so lookups never wait
// on disk I/O and never observe a half-applied mutation. The *AndPersist
// methods change the index and write it under one writeMu section.
type IndexStore struct {
	storage Storage
	cfg     IndexStoreConfig
	logger  zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex

	state     StoreState
	dir       string
	key       *SecureBuffer
	content   *ContentCipher
	indexName string
	index     *Index
	reserved  map[string]struct{}
}

// NewIndexStore creates a closed store on storage.
func NewIndexStore(storage Storage, cfg IndexStoreConfig) *IndexStore {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Names == nil {
		cfg.Names = RandomNameGenerator{}
	}
	return &IndexStore{
		storage: storage,
		cfg:     cfg,
		logger:  logger.With().Str("component", "index").Logger(),
	}
}

// IndexFileName returns the physical name of the index for vaultKey.
func IndexFileName(vaultKey *SecureBuffer) (string, error) {
	return derivedName(vaultKey)
}

// Open loads the index stored in dir. A missing index file yields an empty
// index. An index that exists but cannot be decrypted or parsed is reported
// as a *CorruptionError and left on disk.
func (s *IndexStore) Open(ctx context.Context, vaultKey *SecureBuffer, dir string) (err error) {
	if err := ValidateKey(vaultKey); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != StateClosed {
		state := s.state
		s.mu.Unlock()
		return NewStateError("open", fmt.Errorf("%w: store is %s", ErrInvalidState, state))
	}
	s.state = StateLoading
	s.mu.Unlock()

	key, err := vaultKey.Clone()
	if err != nil {
		s.setState(StateClosed)
		return err
	}
	var content *ContentCipher
	defer func() {
		if err != nil {
			if content != nil {
				content.Wipe()
			}
			key.Wipe()
			s.setState(StateClosed)
		}
	}()

	content, err = NewContentCipher(key, s.cfg.Cipher, s.cfg.ChunkSize)
	if err != nil {
		return err
	}
	indexName, err := IndexFileName(key)
	if err != nil {
		return err
	}

	index, err := s.load(ctx, content, path.Join(dir, indexName))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.dir = dir
	s.key = key
	s.content = content
	s.indexName = indexName
	s.index = index
	s.reserved = make(map[string]struct{})
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Debug().Int("entries", index.Len()).Msg("index_loaded")
	return nil
}

func (s *IndexStore) load(ctx context.Context, content *ContentCipher, name string) (*Index, error) {
	index, err := readIndexFile(ctx, s.storage, content, name)
	switch {
	case err == nil:
		return index, nil
	case isNotExist(err):
		s.logger.Info().Msg("index_missing_starting_empty")
		return NewIndex(), nil
	case ctx.Err() != nil, IsIOError(err):
		return nil, err
	case IsAuthenticationError(err):
		// Reported as damage, not as a wrong password.
		return nil, NewCorruptionError(name, fmt.Errorf("index does not decrypt: %w", ErrAuthFailed))
	default:
		return nil, NewCorruptionError(name, err)
	}
}

// readIndexFile decrypts and parses the index file name.
func readIndexFile(ctx context.Context, storage Storage, content *ContentCipher, name string) (*Index, error) {
	f, err := storage.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, NewIOError("open", name, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	defer func() { memguard.WipeBytes(buf.Bytes()) }()
	if _, err := content.Decrypt(ctx, &buf, f); err != nil {
		return nil, err
	}
	index := NewIndex()
	if err := json.Unmarshal(buf.Bytes(), index); err != nil {
		return nil, err
	}
	return index, nil
}

func (s *IndexStore) setState(state StoreState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *IndexStore) State() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IndexName returns the physical name of the index file.
func (s *IndexStore) IndexName() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return "", NewStateError("index name", ErrStoreClosed)
	}
	return s.indexName, nil
}

// read runs fn under the read lock once the store is ready.
func (s *IndexStore) read(op string, fn func(x *Index)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return NewStateError(op, ErrStoreClosed)
	}
	fn(s.index)
	return nil
}

// mutate runs fn under both locks once the store is ready.
func (s *IndexStore) mutate(op string, fn func(x *Index) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return NewStateError(op, ErrStoreClosed)
	}
	return fn(s.index)
}

// Lookup returns the entry for a physical name.
func (s *IndexStore) Lookup(fileName string) (entry IndexEntry, ok bool, err error) {
	err = s.read("lookup", func(x *Index) {
		entry, ok = x.Lookup(fileName)
	})
	return entry, ok, err
}

// Len returns the number of entries.
func (s *IndexStore) Len() (n int, err error) {
	err = s.read("len", func(x *Index) {
		n = x.Len()
	})
	return n, err
}

// ListByFolder returns the entries directly in folderPath.
func (s *IndexStore) ListByFolder(folderPath string) (entries []IndexEntry, err error) {
	err = s.read("list", func(x *Index) {
		entries = x.ListByFolder(folderPath)
	})
	return entries, err
}

// Entries returns every entry.
func (s *IndexStore) Entries() (entries []IndexEntry, err error) {
	err = s.read("entries", func(x *Index) {
		entries = x.Entries()
	})
	return entries, err
}

// Folders returns every distinct non-root folder path.
func (s *IndexStore) Folders() (folders []string, err error) {
	err = s.read("folders", func(x *Index) {
		folders = x.Folders()
	})
	return folders, err
}

// Add inserts an entry. It fails if the name is already present.
func (s *IndexStore) Add(entry IndexEntry) error {
	return s.mutate("add", func(x *Index) error {
		if err := x.Add(entry); err != nil {
			return err
		}
		delete(s.reserved, entry.FileName)
		return nil
	})
}

// Remove deletes an entry.
func (s *IndexStore) Remove(fileName string) (IndexEntry, error) {
	var removed IndexEntry
	err := s.mutate("remove", func(x *Index) error {
		var err error
		removed, err = x.Remove(fileName)
		return err
	})
	return removed, err
}

// Move changes the folder of an entry.
func (s *IndexStore) Move(fileName, folderPath string) error {
	return s.mutate("move", func(x *Index) error {
		return x.Move(fileName, folderPath)
	})
}

// ReserveName returns a physical name that is not used by any entry, by any
// earlier reservation, by the index file or by an existing storage object.
// The reservation lasts until the name is added or released.
func (s *IndexStore) ReserveName() (string, error) {
	var name string
	err := s.mutate("reserve", func(x *Index) error {
		for attempt := 1; attempt <= MaxNameAttempts; attempt++ {
			candidate, err := s.cfg.Names.Generate(PhysicalNameLength)
			if err != nil {
				return err
			}
			if !IsPhysicalName(candidate) {
				return ValidatePhysicalName(candidate)
			}
			if s.inUse(x, candidate) {
				s.logger.Debug().Int("attempt", attempt).Msg("name_collision")
				continue
			}
			found, err := exists(s.storage, path.Join(s.dir, candidate))
			if err != nil {
				return err
			}
			if found {
				s.logger.Debug().Int("attempt", attempt).Msg("name_collision")
				continue
			}
			s.reserved[candidate] = struct{}{}
			name = candidate
			return nil
		}
		return &NameCollisionError{Attempts: MaxNameAttempts, Err: ErrNameCollision}
	})
	return name, err
}

func (s *IndexStore) inUse(x *Index, candidate string) bool {
	if candidate == s.indexName {
		return true
	}
	if _, ok := s.reserved[candidate]; ok {
		return true
	}
	_, ok := x.Lookup(candidate)
	return ok
}

// ReleaseName drops a reservation that will not be added.
func (s *IndexStore) ReleaseName(name string) {
	_ = s.mutate("release", func(*Index) error {
		delete(s.reserved, name)
		return nil
	})
}

// Persist encrypts the whole index and atomically replaces the index file.
func (s *IndexStore) Persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if s.state != StateReady {
		s.mu.RUnlock()
		return NewStateError("persist", ErrStoreClosed)
	}
	index, content, target := s.index, s.content, path.Join(s.dir, s.indexName)
	s.mu.RUnlock()

	// Holding writeMu keeps index unchanged while it is written.
	return s.write(ctx, content, target, index)
}

// AddAndPersist inserts an entry and persists the index as one step. On
// error neither memory nor disk holds the entry.
func (s *IndexStore) AddAndPersist(ctx context.Context, entry IndexEntry) error {
	err := s.commit(ctx, "add", func(x *Index) error {
		return x.Add(entry)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.reserved, entry.FileName)
	s.mu.Unlock()
	return nil
}

// RemoveAndPersist deletes an entry and persists the index as one step. On
// error the entry is still present in memory and on disk.
func (s *IndexStore) RemoveAndPersist(ctx context.Context, fileName string) (IndexEntry, error) {
	var removed IndexEntry
	err := s.commit(ctx, "remove", func(x *Index) error {
		var err error
		removed, err = x.Remove(fileName)
		return err
	})
	return removed, err
}

// MoveAndPersist changes the folder of an entry and persists the index as
// one step.
func (s *IndexStore) MoveAndPersist(ctx context.Context, fileName, folderPath string) error {
	return s.commit(ctx, "move", func(x *Index) error {
		return x.Move(fileName, folderPath)
	})
}

// commit applies fn to a copy of the index and writes the copy. The copy
// replaces the live index only after it is on disk, and writeMu is held
// throughout, so no other mutation or Persist can interleave.
func (s *IndexStore) commit(ctx context.Context, op string, fn func(x *Index) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if s.state != StateReady {
		s.mu.RUnlock()
		return NewStateError(op, ErrStoreClosed)
	}
	next := s.index.Clone()
	content, target := s.content, path.Join(s.dir, s.indexName)
	s.mu.RUnlock()

	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(ctx, content, target, next); err != nil {
		return err
	}

	s.mu.Lock()
	s.index = next
	s.mu.Unlock()
	return nil
}

func (s *IndexStore) write(ctx context.Context, content *ContentCipher, target string, index *Index) error {
	doc, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}
	defer memguard.WipeBytes(doc)

	if err := writeEncrypted(ctx, s.storage, content, target, bytes.NewReader(doc)); err != nil {
		return err
	}
	s.logger.Debug().Int("entries", index.Len()).Msg("index_persisted")
	return nil
}

// relocate points the store at a renamed vault directory.
func (s *IndexStore) relocate(dir string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
}

// Close wipes the store's key and drops the in-memory index. Closing a
// closed store is a no-op.
func (s *IndexStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.content.Wipe()
	s.key.Wipe()
	s.content = nil
	s.key = nil
	s.index = nil
	s.reserved = nil
	s.state = StateClosed
	return nil
}

// writeEncrypted streams src through content into an atomically replaced
// file.
func writeEncrypted(ctx context.Context, storage Storage, content *ContentCipher, name string, src io.Reader) error {
	return writeFileAtomic(storage, name, func(w io.Writer) error {
		_, err := content.Encrypt(ctx, w, src)
		return err
	})
}
