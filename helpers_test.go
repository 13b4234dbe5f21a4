package mediavault

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/absfs/memfs"
	"github.com/stretchr/testify/require"
)

// Low cost for testing speed.
var testKDF = Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KDF = testKDF
	cfg.ChunkSize = MinChunkSize
	return cfg
}

// newMemStorage returns an in-memory Storage.
func newMemStorage(t *testing.T) Storage {
	t.Helper()
	fs, err := memfs.NewFS()
	require.NoError(t, err, "failed to create memfs")
	return FromAbsFS(fs)
}

// newDirStorage returns a Storage rooted at a fresh temp directory.
func newDirStorage(t *testing.T) Storage {
	t.Helper()
	return NewDirStorage(t.TempDir())
}

func testKey(t *testing.T) *SecureBuffer {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	buf := CopyOf(key)
	t.Cleanup(buf.Wipe)
	return buf
}

func randomData(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// sequenceNames returns a NameGenerator that hands out names in order and then
// repeats the last one.
func sequenceNames(names ...string) NameGenerator {
	i := 0
	return NameGeneratorFunc(func(length int) (string, error) {
		name := names[i]
		if i < len(names)-1 {
			i++
		}
		return name, nil
	})
}

func physicalName(c byte) string {
	return string(bytes.Repeat([]byte{c}, PhysicalNameLength))
}

var errInjected = errors.New("injected failure")

// faultyStorage wraps a Storage and fails every operation the installed
// predicate selects. Operations are "create", "open", "write", "sync",
// "rename" and "remove"; for "rename" the name is the target.
type faultyStorage struct {
	Storage
	mu   sync.Mutex
	fail func(op, name string) bool
}

func newFaultyStorage(base Storage) *faultyStorage {
	return &faultyStorage{Storage: base}
}

// failOn installs fail. A nil predicate turns injection off.
func (s *faultyStorage) failOn(fail func(op, name string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *faultyStorage) check(op, name string) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil && fail(op, name) {
		return fmt.Errorf("%s %s: %w", op, path.Base(name), errInjected)
	}
	return nil
}

func (s *faultyStorage) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	op := "open"
	if flag&os.O_CREATE != 0 {
		op = "create"
	}
	if err := s.check(op, name); err != nil {
		return nil, err
	}
	f, err := s.Storage.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: f, name: name, storage: s}, nil
}

func (s *faultyStorage) Rename(oldpath, newpath string) error {
	if err := s.check("rename", newpath); err != nil {
		return err
	}
	return s.Storage.Rename(oldpath, newpath)
}

func (s *faultyStorage) Remove(name string) error {
	if err := s.check("remove", name); err != nil {
		return err
	}
	return s.Storage.Remove(name)
}

type faultyFile struct {
	File
	name    string
	storage *faultyStorage
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if err := f.storage.check("write", f.name); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

func (f *faultyFile) Sync() error {
	if err := f.storage.check("sync", f.name); err != nil {
		return err
	}
	return f.File.Sync()
}

// failRenameOf selects renames onto a file with the given base name.
func failRenameOf(base string) func(op, name string) bool {
	return func(op, name string) bool {
		return op == "rename" && path.Base(name) == base
	}
}

// dirNames returns the names in dir as a set.
func dirNames(t *testing.T, storage Storage, dir string) map[string]bool {
	t.Helper()
	names, err := storage.ReadDirNames(dir)
	require.NoError(t, err)
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		set[n] = true
	}
	return set
}
