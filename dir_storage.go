package mediavault

import (
	"os"
	"path/filepath"
)

// dirStorage is a Storage rooted at a directory of the host filesystem.
type dirStorage struct {
	root string
}

// NewDirStorage returns a Storage that resolves every path below root.
func NewDirStorage(root string) Storage {
	return &dirStorage{root: root}
}

func (s *dirStorage) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean("/"+name)))
}

func (s *dirStorage) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(s.path(name), flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *dirStorage) Stat(name string) (os.FileInfo, error) {
	return os.Stat(s.path(name))
}

func (s *dirStorage) Rename(oldpath, newpath string) error {
	return os.Rename(s.path(oldpath), s.path(newpath))
}

func (s *dirStorage) Remove(name string) error {
	return os.Remove(s.path(name))
}

func (s *dirStorage) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(s.path(name), perm)
}

func (s *dirStorage) ReadDirNames(dir string) ([]string, error) {
	f, err := os.Open(s.path(dir))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
