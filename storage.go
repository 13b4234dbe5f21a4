package mediavault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// File is the subset of a file handle the vault needs.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Sync() error
}

// Storage is the byte store a vault lives on. Paths are slash separated.
type Storage interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Stat(name string) (os.FileInfo, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	MkdirAll(name string, perm os.FileMode) error
	ReadDirNames(dir string) ([]string, error)
}

// absStorage adapts an absfs.FileSystem to Storage.
type absStorage struct {
	fs absfs.FileSystem
}

// FromAbsFS returns a Storage backed by any absfs filesystem.
func FromAbsFS(fs absfs.FileSystem) Storage {
	return &absStorage{fs: fs}
}

func (s *absStorage) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return s.fs.OpenFile(name, flag, perm)
}

func (s *absStorage) Stat(name string) (os.FileInfo, error) {
	return s.fs.Stat(name)
}

// Rename replaces an existing target in one step. A filesystem that cannot
// rename over a file reports an error and the target is left as it was.
func (s *absStorage) Rename(oldpath, newpath string) error {
	return s.fs.Rename(oldpath, newpath)
}

func (s *absStorage) Remove(name string) error {
	return s.fs.Remove(name)
}

func (s *absStorage) MkdirAll(name string, perm os.FileMode) error {
	return s.fs.MkdirAll(name, perm)
}

func (s *absStorage) ReadDirNames(dir string) ([]string, error) {
	f, err := s.fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

// tempSuffix marks files written by writeFileAtomic that have not been
// renamed into place yet.
const tempSuffix = ".tmp-"

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)
}

// exists reports whether name is present on storage.
func exists(storage Storage, name string) (bool, error) {
	_, err := storage.Stat(name)
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, NewIOError("stat", name, err)
}

// writeFileAtomic writes name by filling a uniquely named temp file, syncing
// it and renaming it over name. A failure at any step removes the temp file
// and leaves the previous contents of name untouched. If a failed rename has
// taken name away, the temp file is kept so Open can promote it.
func writeFileAtomic(storage Storage, name string, fill func(w io.Writer) error) (err error) {
	tmp := name + tempSuffix + uuid.NewString()

	f, err := storage.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return NewIOError("create", tmp, err)
	}
	keepTemp := false
	defer func() {
		if err != nil && !keepTemp {
			_ = storage.Remove(tmp)
		}
	}()

	if err = fill(f); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return NewIOError("sync", tmp, err)
	}
	if err = f.Close(); err != nil {
		return NewIOError("close", tmp, err)
	}
	existed, _ := exists(storage, name)
	if err = storage.Rename(tmp, name); err != nil {
		if found, serr := exists(storage, name); existed && serr == nil && !found {
			keepTemp = true
		}
		return NewIOError("rename", name, fmt.Errorf("failed to replace %s: %w", path.Base(name), err))
	}
	return nil
}

// readFile reads a whole file.
func readFile(storage Storage, name string) ([]byte, error) {
	f, err := storage.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
