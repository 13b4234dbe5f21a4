package mediavault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/awnumar/memguard"
)

// rekeySuffix marks content re-encrypted under a new password that has not
// been promoted over the file it replaces yet.
const rekeySuffix = ".rekey"

// ChangePassword re-derives the vault key from newPassword and re-encrypts
// every content file and the index under it.
//
// The new files are staged next to the live files first. Replacing the
// verifier is the commit point: a crash before it leaves the vault on the old
// password, a crash after it is finished by the next Open with the new one.
// Both passwords are wiped before ChangePassword returns.
func (v *Vault) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) (err error) {
	defer memguard.WipeBytes(oldPassword)
	defer memguard.WipeBytes(newPassword)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return NewStateError("change password", ErrVaultClosed)
	}

	deriver, err := NewKeyDeriver(v.cfg.KDF, v.suite)
	if err != nil {
		return err
	}

	// The old password must still unlock the vault.
	rec, err := readVerifier(v.storage, v.dir)
	if err != nil {
		return err
	}
	defer rec.Wipe()
	oldPw := CopyOf(oldPassword)
	defer oldPw.Wipe()
	oldKey, err := deriver.DeriveAndVerify(ctx, oldPw, rec)
	if err != nil {
		return err
	}
	oldKey.Wipe()

	newPw := CopyOf(newPassword)
	defer newPw.Wipe()
	newRec, newKey, err := deriver.CreateVerifier(ctx, newPw)
	if err != nil {
		return err
	}
	defer newRec.Wipe()
	defer func() {
		if err != nil {
			newKey.Wipe()
		}
	}()

	staged, err := v.stageRekey(ctx, newKey)
	if err != nil {
		v.removeStaged(staged)
		return err
	}

	// Commit.
	if err := writeVerifier(v.storage, v.dir, newRec); err != nil {
		v.removeStaged(staged)
		return err
	}

	if err := v.completePendingRekey(ctx, v.dir, newKey); err != nil {
		return err
	}

	displayName, nameErr := v.folders.DecryptName(path.Base(v.dir))
	dir := v.dir
	v.lock()
	if err := v.unlock(ctx, dir, newKey); err != nil {
		return err
	}
	if nameErr == nil {
		if token, err := v.folders.EncryptName(displayName); err == nil {
			newDir := path.Join(path.Dir(dir), token)
			if err := v.storage.Rename(dir, newDir); err != nil {
				v.logger.Warn().Err(err).Msg("vault_dir_rename_failed")
			} else {
				v.store.relocate(newDir)
				v.dir = newDir
			}
		}
	}

	v.logger.Info().Msg("password_changed")
	return nil
}

// stageRekey writes <name>.rekey for every content file and for the new
// index. It returns the staged paths written so far.
func (v *Vault) stageRekey(ctx context.Context, newKey *SecureBuffer) ([]string, error) {
	var staged []string

	newContent, err := NewContentCipher(newKey, v.suite, v.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer newContent.Wipe()

	newIndex, err := IndexFileName(newKey)
	if err != nil {
		return nil, err
	}
	if _, ok, _ := v.store.Lookup(newIndex); ok {
		return nil, &NameCollisionError{Attempts: 1, Err: ErrNameCollision}
	}

	entries, err := v.store.Entries()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		target := path.Join(v.dir, e.FileName+rekeySuffix)
		staged = append(staged, target)
		if err := v.reencrypt(ctx, e.FileName, newContent, target); err != nil {
			return staged, fmt.Errorf("failed to re-encrypt %s: %w", e.FileName, err)
		}
	}

	index := NewIndex()
	for _, e := range entries {
		if err := index.Add(e); err != nil {
			return staged, err
		}
	}
	doc, err := json.Marshal(index)
	if err != nil {
		return staged, fmt.Errorf("failed to serialize index: %w", err)
	}
	defer memguard.WipeBytes(doc)

	target := path.Join(v.dir, newIndex+rekeySuffix)
	staged = append(staged, target)
	if err := writeEncrypted(ctx, v.storage, newContent, target, bytes.NewReader(doc)); err != nil {
		return staged, err
	}
	return staged, nil
}

// reencrypt decrypts a content file with the current key and writes it under
// newContent to target.
func (v *Vault) reencrypt(ctx context.Context, fileName string, newContent *ContentCipher, target string) error {
	src, err := v.openContent(v.content, fileName)
	if err != nil {
		return err
	}
	defer src.Close()
	return writeEncrypted(ctx, v.storage, newContent, target, src)
}

func (v *Vault) removeStaged(staged []string) {
	for _, name := range staged {
		_ = v.storage.Remove(name)
	}
}

// completePendingRekey promotes staged files in dir once their commit is
// visible, and discards them otherwise. The staged index is promoted last
// because its presence is what marks a committed change. After promotion the
// old index and any other blob the new index does not reference are removed.
func (v *Vault) completePendingRekey(ctx context.Context, dir string, key *SecureBuffer) error {
	names, err := v.storage.ReadDirNames(dir)
	if err != nil {
		return NewIOError("readdir", dir, err)
	}
	var pending []string
	for _, name := range names {
		if strings.HasSuffix(name, rekeySuffix) {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Strings(pending)

	indexName, err := IndexFileName(key)
	if err != nil {
		return err
	}
	stagedIndex := indexName + rekeySuffix
	committed := false
	for _, name := range pending {
		if name == stagedIndex {
			committed = true
		}
	}

	if !committed {
		for _, name := range pending {
			if err := v.storage.Remove(path.Join(dir, name)); err != nil && !isNotExist(err) {
				return NewIOError("remove", name, err)
			}
		}
		v.logger.Info().Int("files", len(pending)).Msg("aborted_rekey_discarded")
		return nil
	}

	for _, name := range pending {
		if name == stagedIndex {
			continue
		}
		if err := v.promote(dir, name); err != nil {
			return err
		}
	}
	if err := v.promote(dir, stagedIndex); err != nil {
		return err
	}
	v.logger.Info().Int("files", len(pending)).Msg("rekey_promoted")
	return v.removeUnreferenced(ctx, dir, key, indexName)
}

// removeUnreferenced deletes physical-name files in dir that are neither the
// index nor one of its entries. Nothing is removed unless the index reads
// back cleanly.
func (v *Vault) removeUnreferenced(ctx context.Context, dir string, key *SecureBuffer, indexName string) error {
	content, err := NewContentCipher(key, v.suite, v.cfg.ChunkSize)
	if err != nil {
		return err
	}
	defer content.Wipe()

	index, err := readIndexFile(ctx, v.storage, content, path.Join(dir, indexName))
	if err != nil {
		v.logger.Warn().Err(err).Msg("orphan_sweep_skipped")
		return nil
	}
	names, err := v.storage.ReadDirNames(dir)
	if err != nil {
		return NewIOError("readdir", dir, err)
	}
	for _, name := range names {
		if !IsPhysicalName(name) || name == indexName {
			continue
		}
		if _, ok := index.Lookup(name); ok {
			continue
		}
		if err := v.storage.Remove(path.Join(dir, name)); err != nil && !isNotExist(err) {
			return NewIOError("remove", name, err)
		}
		v.logger.Debug().Str("file", name).Msg("orphan_removed")
	}
	return nil
}

func (v *Vault) promote(dir, staged string) error {
	from := path.Join(dir, staged)
	to := path.Join(dir, strings.TrimSuffix(staged, rekeySuffix))
	if err := v.storage.Rename(from, to); err != nil {
		return NewIOError("rename", from, err)
	}
	return nil
}

// Verify decrypts every content file in the index and returns the physical
// names that failed, with their errors. Files are checked concurrently as
// configured by Config.Parallel.
func (v *Vault) Verify(ctx context.Context) (map[string]error, error) {
	release, err := v.acquire("verify")
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := v.store.Entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.FileName
	}

	failures := runJobs(ctx, v.cfg.Parallel, names, func(ctx context.Context, name string) error {
		return v.verifyContent(ctx, name)
	})
	if len(failures) > 0 {
		v.logger.Warn().Int("failed", len(failures)).Int("checked", len(names)).Msg("verify_failed")
	}
	return failures, ctx.Err()
}

func (v *Vault) verifyContent(ctx context.Context, fileName string) error {
	name := path.Join(v.dir, fileName)
	f, err := v.storage.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return NewIOError("open", name, err)
	}
	defer f.Close()
	_, err = v.content.Decrypt(ctx, io.Discard, f)
	return err
}
