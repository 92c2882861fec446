package tactile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grim-sudo/Automation/internal/config"
	"github.com/grim-sudo/Automation/internal/types"
)

func newTestAdapter(t *testing.T, allowed ...string) *LocalAdapter {
	t.Helper()
	a, err := NewLocalAdapter(config.ExecutionConfig{WorkingDirectory: t.TempDir(), AllowedBinaries: allowed})
	require.NoError(t, err)
	return a
}

func perform(t *testing.T, a *LocalAdapter, op types.Operation, kv ...string) (string, error) {
	t.Helper()
	params := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		params[kv[i]] = kv[i+1]
	}
	return a.Perform(context.Background(), op, params)
}

func TestLocal_CreateNestedFolder(t *testing.T) {
	a := newTestAdapter(t)

	out, err := perform(t, a, types.OpCreateFolder, "path", "tables/table1")
	require.NoError(t, err)
	assert.Contains(t, out, "tables/table1")

	info, err := os.Stat(filepath.Join(a.Root(), "tables", "table1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Creating it again is not an error.
	_, err = perform(t, a, types.OpCreateFolder, "path", "tables/table1")
	assert.NoError(t, err)
}

func TestLocal_CreateFileKeepsContent(t *testing.T) {
	a := newTestAdapter(t)

	_, err := perform(t, a, types.OpCreateFile, "path", "t/table.txt")
	require.NoError(t, err)
	_, err = perform(t, a, types.OpWriteContent, "path", "t/table.txt", "content", "7 x 1 = 7\n")
	require.NoError(t, err)
	_, err = perform(t, a, types.OpCreateFile, "path", "t/table.txt")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(a.Root(), "t", "table.txt"))
	require.NoError(t, err)
	assert.Equal(t, "7 x 1 = 7\n", string(data))
}

func TestLocal_SandboxEscapes(t *testing.T) {
	a := newTestAdapter(t)

	for _, p := range []string{"../x", "a/../../x", "/etc/passwd", "~", "~/notes"} {
		t.Run(p, func(t *testing.T) {
			_, err := perform(t, a, types.OpCreateFolder, "path", p)
			require.Error(t, err)
			assert.Equal(t, types.ErrPermissionDenied, ClassifyError(err))
			assert.ErrorIs(t, err, ErrOutsideSandbox)
		})
	}
}

func TestLocal_SymlinkCannotLeaveSandbox(t *testing.T) {
	a := newTestAdapter(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(a.Root(), "link")))

	for _, op := range []types.Operation{types.OpCreateFolder, types.OpCreateFile} {
		_, err := perform(t, a, op, "path", "link/escaped")
		require.Error(t, err)
		assert.Equal(t, types.ErrPermissionDenied, ClassifyError(err))
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	}
	_, err := perform(t, a, types.OpWriteContent, "path", "link/escaped.txt", "content", "x")
	assert.Equal(t, types.ErrPermissionDenied, ClassifyError(err))
	assert.NoFileExists(t, filepath.Join(outside, "escaped"))
	assert.NoFileExists(t, filepath.Join(outside, "escaped.txt"))

	// deleting the link removes the link, not its target
	_, err = perform(t, a, types.OpDeletePath, "path", "link")
	require.NoError(t, err)
	assert.DirExists(t, outside)
}

func TestLocal_SymlinkInsideSandboxIsAllowed(t *testing.T) {
	a := newTestAdapter(t)
	require.NoError(t, os.Mkdir(filepath.Join(a.Root(), "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(a.Root(), "real"), filepath.Join(a.Root(), "alias")))

	_, err := perform(t, a, types.OpCreateFolder, "path", "alias/sub")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(a.Root(), "real", "sub"))
}

func TestLocal_EmptyPathIsInvalid(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpCreateFile, "path", "")
	assert.Equal(t, types.ErrInvalidPath, ClassifyError(err))
}

func TestLocal_DeleteMissingIsNotFound(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpDeletePath, "path", "missing")
	assert.Equal(t, types.ErrNotFound, ClassifyError(err))
}

func TestLocal_DeleteRootIsRefused(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpDeletePath, "path", ".")
	assert.Equal(t, types.ErrPermissionDenied, ClassifyError(err))
	_, statErr := os.Stat(a.Root())
	assert.NoError(t, statErr)
}

func TestLocal_DeleteFolder(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpCreateFile, "path", "old/a.txt")
	require.NoError(t, err)

	_, err = perform(t, a, types.OpDeletePath, "path", "old")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(a.Root(), "old"))
}

func TestLocal_MoveIntoFolderAndRename(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpCreateFile, "path", "draft.txt")
	require.NoError(t, err)
	_, err = perform(t, a, types.OpCreateFolder, "path", "archive")
	require.NoError(t, err)

	out, err := perform(t, a, types.OpMovePath, "source", "draft.txt", "destination", "archive")
	require.NoError(t, err)
	assert.Equal(t, "moved draft.txt to archive/draft.txt", out)
	assert.FileExists(t, filepath.Join(a.Root(), "archive", "draft.txt"))

	_, err = perform(t, a, types.OpRenamePath, "source", "archive/draft.txt", "destination", "archive/final.txt")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(a.Root(), "archive", "final.txt"))
	assert.NoFileExists(t, filepath.Join(a.Root(), "archive", "draft.txt"))
}

func TestLocal_CopyFolder(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpWriteContent, "path", "src/a/b.txt", "content", "hello")
	require.NoError(t, err)

	_, err = perform(t, a, types.OpCopyPath, "source", "src", "destination", "backup")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(a.Root(), "backup", "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.FileExists(t, filepath.Join(a.Root(), "src", "a", "b.txt"))
}

func TestLocal_ListAndAnalyze(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpWriteContent, "path", "docs/b.md", "content", "12345")
	require.NoError(t, err)
	_, err = perform(t, a, types.OpWriteContent, "path", "docs/a.txt", "content", "123")
	require.NoError(t, err)
	_, err = perform(t, a, types.OpCreateFolder, "path", "docs/sub")
	require.NoError(t, err)

	out, err := perform(t, a, types.OpListPath, "path", "docs")
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb.md\nsub/", out)

	out, err = perform(t, a, types.OpAnalyzePath, "path", "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs: 2 files, 1 folders, 8 bytes\n  .md: 1\n  .txt: 1", out)
}

func TestLocal_RunCommandAllowlist(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.OpRunCommand, "command", "echo", "args", "hi")
	require.Error(t, err)
	assert.Equal(t, types.ErrPermissionDenied, ClassifyError(err))
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestLocal_RunCommand(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	a := newTestAdapter(t, "echo")

	out, err := perform(t, a, types.OpRunCommand, "command", "echo", "args", "hi there", "dir", ".")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestLocal_SetConfigAndHelp(t *testing.T) {
	a := newTestAdapter(t)

	out, err := perform(t, a, types.OpSetConfig, "key", "verbose", "value", "true")
	require.NoError(t, err)
	assert.Equal(t, "verbose = true", out)
	assert.Equal(t, map[string]string{"verbose": "true"}, a.Settings())

	out, err = perform(t, a, types.OpShowHelp)
	require.NoError(t, err)
	assert.Equal(t, HelpText, out)
}

func TestLocal_UnsupportedOperation(t *testing.T) {
	a := newTestAdapter(t)
	_, err := perform(t, a, types.Operation("format_disk"))
	assert.Equal(t, types.ErrUnsupportedOperation, ClassifyError(err))
}

func TestLimitedWriter(t *testing.T) {
	var sb []byte
	w := &limitedWriter{w: writerFunc(func(p []byte) (int, error) { sb = append(sb, p...); return len(p), nil }), max: 4}

	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", string(sb))
	assert.True(t, w.truncated)
	assert.EqualValues(t, 2, w.discarded)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
