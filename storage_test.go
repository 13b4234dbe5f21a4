package mediavault

import (
	"errors"
	"io"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeString(storage Storage, name, content string) error {
	return writeFileAtomic(storage, name, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	storage := newMemStorage(t)
	require.NoError(t, storage.MkdirAll("/d", 0700))
	target := path.Join("/d", "record")

	require.NoError(t, writeString(storage, target, "first"))
	require.NoError(t, writeString(storage, target, "second"))

	data, err := readFile(storage, target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, map[string]bool{"record": true}, dirNames(t, storage, "/d"))
}

func TestWriteFileAtomicFailures(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"create temp", "create"},
		{"write temp", "write"},
		{"sync temp", "sync"},
		{"rename over target", "rename"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := newFaultyStorage(newMemStorage(t))
			require.NoError(t, storage.MkdirAll("/d", 0700))
			target := path.Join("/d", "record")
			require.NoError(t, writeString(storage, target, "durable"))

			storage.failOn(func(op, name string) bool { return op == tt.op })
			err := writeString(storage, target, "replacement")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errInjected), "got %v", err)
			storage.failOn(nil)

			data, err := readFile(storage, target)
			require.NoError(t, err)
			assert.Equal(t, "durable", string(data), "previous contents must survive")
			assert.Equal(t, map[string]bool{"record": true}, dirNames(t, storage, "/d"), "temp file left behind")
		})
	}
}

func TestWriteFileAtomicFillError(t *testing.T) {
	storage := newMemStorage(t)
	require.NoError(t, storage.MkdirAll("/d", 0700))
	target := path.Join("/d", "record")
	require.NoError(t, writeString(storage, target, "durable"))

	boom := errors.New("encoder failed")
	err := writeFileAtomic(storage, target, func(w io.Writer) error {
		_, _ = io.WriteString(w, "half")
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	data, err := readFile(storage, target)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(data))
	for name := range dirNames(t, storage, "/d") {
		assert.False(t, strings.Contains(name, tempSuffix), "temp file %q left behind", name)
	}
}

// lossyRenameStorage loses the target when a rename fails, like a filesystem
// that cannot replace in one step.
type lossyRenameStorage struct {
	Storage
}

func (s lossyRenameStorage) Rename(oldpath, newpath string) error {
	_ = s.Storage.Remove(newpath)
	return errInjected
}

func TestWriteFileAtomicKeepsTempWhenTargetLost(t *testing.T) {
	base := newMemStorage(t)
	require.NoError(t, base.MkdirAll("/d", 0700))
	target := path.Join("/d", "record")
	require.NoError(t, writeString(base, target, "durable"))

	err := writeString(lossyRenameStorage{base}, target, "replacement")
	require.True(t, errors.Is(err, errInjected))

	var temps []string
	for name := range dirNames(t, base, "/d") {
		if strings.HasPrefix(name, "record"+tempSuffix) {
			temps = append(temps, name)
		}
	}
	require.Len(t, temps, 1, "the only complete copy must be kept")
	data, err := readFile(base, path.Join("/d", temps[0]))
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(data))
}
