package mediavault

import (
	"context"
	"errors"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeDir = "/vault"

func newTestStore(t *testing.T, storage Storage, names NameGenerator) *IndexStore {
	t.Helper()
	require.NoError(t, storage.MkdirAll(storeDir, 0700))
	s := NewIndexStore(storage, IndexStoreConfig{
		Cipher:    CipherAES256GCM,
		ChunkSize: testChunk,
		Names:     names,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexStoreMissingIndexIsEmpty(t *testing.T) {
	storage := newMemStorage(t)
	s := newTestStore(t, storage, nil)
	assert.Equal(t, StateClosed, s.State())

	require.NoError(t, s.Open(context.Background(), testKey(t), storeDir))
	assert.Equal(t, StateReady, s.State())

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	name, err := s.IndexName()
	require.NoError(t, err)
	ok, err := exists(storage, path.Join(storeDir, name))
	require.NoError(t, err)
	assert.False(t, ok, "opening must not create the index")
}

func TestIndexStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage(t)
	key := testKey(t)

	s := newTestStore(t, storage, nil)
	require.NoError(t, s.Open(ctx, key, storeDir))

	var added []IndexEntry
	for i, folder := range []string{"", "a/b", "a/b", "c"} {
		name, err := s.ReserveName()
		require.NoError(t, err)
		e := NewIndexEntry(name, FileType(i%4), folder)
		require.NoError(t, s.Add(e))
		added = append(added, e)
	}
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())

	reopened := newTestStore(t, storage, nil)
	require.NoError(t, reopened.Open(ctx, key, storeDir))
	for _, e := range added {
		got, ok, err := reopened.Lookup(e.FileName)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
	inFolder, err := reopened.ListByFolder("a/b")
	require.NoError(t, err)
	assert.Len(t, inFolder, 2)

	folders, err := reopened.Folders()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "c"}, folders)
}

func TestIndexStoreFileIsEncrypted(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage(t)
	s := newTestStore(t, storage, nil)
	require.NoError(t, s.Open(ctx, testKey(t), storeDir))

	require.NoError(t, s.Add(NewIndexEntry(physicalName('q'), FileTypeImage, "secret-folder")))
	require.NoError(t, s.Persist(ctx))

	name, err := s.IndexName()
	require.NoError(t, err)
	data, err := readFile(storage, path.Join(storeDir, name))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-folder")
	assert.NotContains(t, string(data), physicalName('q'))
	assert.NotContains(t, string(data), "entries")
}

func TestIndexStoreCorruptIndex(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage(t)
	key := testKey(t)

	s := newTestStore(t, storage, nil)
	require.NoError(t, s.Open(ctx, key, storeDir))
	require.NoError(t, s.Add(NewIndexEntry(physicalName('a'), FileTypeImage, "")))
	require.NoError(t, s.Persist(ctx))
	name, err := s.IndexName()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	target := path.Join(storeDir, name)
	data, err := readFile(storage, target)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	writeRaw(t, storage, target, data)

	reopened := newTestStore(t, storage, nil)
	err = reopened.Open(ctx, key, storeDir)
	require.Error(t, err)
	assert.True(t, IsCorruptionError(err))
	assert.True(t, errors.Is(err, ErrCorruptIndex))
	assert.Equal(t, StateClosed, reopened.State())

	ok, err := exists(storage, target)
	require.NoError(t, err)
	assert.True(t, ok, "a corrupt index must never be removed")
}

func TestIndexStoreUndecodableDocument(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage(t)
	key := testKey(t)
	require.NoError(t, storage.MkdirAll(storeDir, 0700))

	name, err := IndexFileName(key)
	require.NoError(t, err)
	content, err := NewContentCipher(key, CipherAES256GCM, testChunk)
	require.NoError(t, err)
	defer content.Wipe()
	writeRaw(t, storage, path.Join(storeDir, name), encryptBytes(t, content, []byte(`{"version":7}`)))

	s := newTestStore(t, storage, nil)
	err = s.Open(ctx, key, storeDir)
	assert.True(t, IsCorruptionError(err))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestIndexStoreClosed(t *testing.T) {
	s := newTestStore(t, newMemStorage(t), nil)

	_, _, err := s.Lookup(physicalName('a'))
	assert.True(t, errors.Is(err, ErrStoreClosed))
	assert.True(t, IsStateError(err))

	assert.True(t, errors.Is(s.Add(NewIndexEntry(physicalName('a'), FileTypeImage, "")), ErrStoreClosed))
	assert.True(t, errors.Is(s.Persist(context.Background()), ErrStoreClosed))
	_, err = s.ReserveName()
	assert.True(t, errors.Is(err, ErrStoreClosed))
	_, err = s.ListByFolder("")
	assert.True(t, errors.Is(err, ErrStoreClosed))
	_, err = s.IndexName()
	assert.True(t, errors.Is(err, ErrStoreClosed))

	assert.NoError(t, s.Close())
}

func TestIndexStoreOpenTwice(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemStorage(t), nil)
	key := testKey(t)
	require.NoError(t, s.Open(ctx, key, storeDir))

	err := s.Open(ctx, key, storeDir)
	assert.True(t, IsStateError(err))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, StateReady, s.State())
}

func TestIndexStoreOwnsKeyCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemStorage(t), nil)
	key := CopyOf(randomData(t, KeySize))
	require.NoError(t, s.Open(ctx, key, storeDir))

	key.Wipe()
	require.NoError(t, s.Add(NewIndexEntry(physicalName('a'), FileTypeImage, "")))
	assert.NoError(t, s.Persist(ctx))

	require.NoError(t, s.Close())
	assert.True(t, IsStateError(s.Open(ctx, key, storeDir)), "a wiped key cannot open a store")
}

func TestIndexStoreReserveNameRetries(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage(t)
	key := testKey(t)
	indexName, err := IndexFileName(key)
	require.NoError(t, err)

	taken := physicalName('t')
	onDisk := physicalName('d')
	reserved := physicalName('r')
	fresh := physicalName('f')

	s := newTestStore(t, storage, sequenceNames(reserved, indexName, taken, reserved, onDisk, fresh))
	require.NoError(t, s.Open(ctx, key, storeDir))
	require.NoError(t, s.Add(NewIndexEntry(taken, FileTypeImage, "")))
	writeRaw(t, storage, path.Join(storeDir, onDisk), []byte("x"))

	first, err := s.ReserveName()
	require.NoError(t, err)
	assert.Equal(t, reserved, first)

	second, err := s.ReserveName()
	require.NoError(t, err)
	assert.Equal(t, fresh, second)
}

func TestIndexStoreReleaseName(t *testing.T) {
	ctx := context.Background()
	name := physicalName('n')
	s := newTestStore(t, newMemStorage(t), sequenceNames(name))
	require.NoError(t, s.Open(ctx, testKey(t), storeDir))

	got, err := s.ReserveName()
	require.NoError(t, err)
	assert.Equal(t, name, got)

	_, err = s.ReserveName()
	assert.True(t, IsNameCollisionError(err))

	s.ReleaseName(name)
	got, err = s.ReserveName()
	require.NoError(t, err)
	assert.Equal(t, name, got)
}

func TestIndexStoreNameCollisionExhausted(t *testing.T) {
	ctx := context.Background()
	used := physicalName('u')
	calls := 0
	gen := NameGeneratorFunc(func(int) (string, error) {
		calls++
		return used, nil
	})

	s := newTestStore(t, newMemStorage(t), gen)
	require.NoError(t, s.Open(ctx, testKey(t), storeDir))
	require.NoError(t, s.Add(NewIndexEntry(used, FileTypeImage, "")))

	_, err := s.ReserveName()
	require.Error(t, err)
	assert.True(t, IsNameCollisionError(err))
	assert.True(t, errors.Is(err, ErrNameCollision))
	assert.Equal(t, MaxNameAttempts, calls)
}

func TestIndexStoreRejectsMalformedGeneratedName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemStorage(t), sequenceNames("../escape"))
	require.NoError(t, s.Open(ctx, testKey(t), storeDir))

	_, err := s.ReserveName()
	assert.True(t, IsValidationError(err))
}

func TestIndexStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemStorage(t), nil)
	require.NoError(t, s.Open(ctx, testKey(t), storeDir))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				name, err := s.ReserveName()
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				if err := s.Add(NewIndexEntry(name, FileTypeText, "f")); err != nil {
					t.Errorf("add: %v", err)
					return
				}
				if err := s.Persist(ctx); err != nil {
					t.Errorf("persist: %v", err)
					return
				}
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				entries, err := s.ListByFolder("f")
				if err != nil {
					t.Errorf("list: %v", err)
					return
				}
				for _, e := range entries {
					if _, ok, _ := s.Lookup(e.FileName); !ok {
						t.Errorf("listed entry %s not found", e.FileName)
					}
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}

func writeRaw(t *testing.T, storage Storage, name string, data []byte) {
	t.Helper()
	f, err := storage.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
