package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with args against root and returns its stdout.
func run(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	importFolder, importType, lsRecursive, verbose = "", "", false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--root", root}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setTestEnv(t *testing.T, password string) {
	t.Setenv(passwordEnv, password)
	t.Setenv("MEDIAVAULT_KDF_MEMORY_KIB", "1024")
	t.Setenv("MEDIAVAULT_KDF_ITERATIONS", "1")
	t.Setenv("MEDIAVAULT_KDF_PARALLELISM", "1")
	t.Setenv("MEDIAVAULT_LOG_LEVEL", "disabled")
}

func TestCLIWorkflow(t *testing.T) {
	root := t.TempDir()
	setTestEnv(t, "p@ss")

	out, err := run(t, root, "create", "Holiday")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(token, "mv1_"), "got %q", token)

	out, err = run(t, root, "vaults")
	require.NoError(t, err)
	assert.Equal(t, token, strings.TrimSpace(out))

	src := filepath.Join(t.TempDir(), "beach.jpg")
	photo := bytes.Repeat([]byte("jpeg"), 5000)
	require.NoError(t, os.WriteFile(src, photo, 0600))

	// A unique prefix selects the vault.
	out, err = run(t, root, "import", token[:8], src, "--folder", "2024/summer")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	name := fields[0]
	assert.Equal(t, "beach.jpg", fields[1])

	out, err = run(t, root, "ls", token, "2024/summer")
	require.NoError(t, err)
	assert.Contains(t, out, name)
	assert.Contains(t, out, "IMAGE")
	assert.Contains(t, out, "20.00 kB")

	out, err = run(t, root, "info", token)
	require.NoError(t, err)
	assert.Contains(t, out, "name:    Holiday")
	assert.Contains(t, out, "entries: 1")

	dst := filepath.Join(t.TempDir(), "out.jpg")
	_, err = run(t, root, "export", token, name, dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, photo, got)

	_, err = run(t, root, "export", token, name, dst)
	assert.Error(t, err, "export must not overwrite")

	out, err = run(t, root, "verify", token)
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(out))

	_, err = run(t, root, "mv", token, name, "archive")
	require.NoError(t, err)
	out, err = run(t, root, "ls", token, "-r")
	require.NoError(t, err)
	assert.Contains(t, out, "/archive")

	_, err = run(t, root, "rm", token, name)
	require.NoError(t, err)
	out, err = run(t, root, "ls", token, "archive")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestCLIWrongPassword(t *testing.T) {
	root := t.TempDir()
	setTestEnv(t, "p@ss")
	out, err := run(t, root, "create", "Holiday")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	t.Setenv(passwordEnv, "wrong")
	_, err = run(t, root, "info", token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication")
}

func TestCLIPasswd(t *testing.T) {
	root := t.TempDir()
	setTestEnv(t, "old")
	out, err := run(t, root, "create", "Holiday")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("remember"), 0600))
	_, err = run(t, root, "import", token, src)
	require.NoError(t, err)

	t.Setenv(newPasswordEnv, "new")
	out, err = run(t, root, "passwd", token)
	require.NoError(t, err)
	newToken := strings.TrimSpace(out)

	t.Setenv(passwordEnv, "new")
	out, err = run(t, root, "info", newToken)
	require.NoError(t, err)
	assert.Contains(t, out, "name:    Holiday")
	assert.Contains(t, out, "TEXT")
}

func TestCLIResolveVault(t *testing.T) {
	root := t.TempDir()
	setTestEnv(t, "p@ss")
	_, err := run(t, root, "create", "One")
	require.NoError(t, err)
	_, err = run(t, root, "create", "Two")
	require.NoError(t, err)

	_, err = run(t, root, "info", "mv1_")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches 2 vaults")

	_, err = run(t, root, "info", "nothing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vault matches")
}

func TestCLIImportNeedsType(t *testing.T) {
	root := t.TempDir()
	setTestEnv(t, "p@ss")
	out, err := run(t, root, "create", "Holiday")
	require.NoError(t, err)
	token := strings.TrimSpace(out)

	src := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0600))
	_, err = run(t, root, "import", token, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--type")

	_, err = run(t, root, "import", token, src, "--type", "video")
	require.NoError(t, err)
}
