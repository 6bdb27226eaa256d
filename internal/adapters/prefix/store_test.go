package prefix_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marimeireles/mamba/internal/adapters/prefix"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractedTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func record(name, version string) *domain.Record {
	return &domain.Record{Name: name, Version: version, Build: "0"}
}

func TestStore_LoadEmptyPrefix(t *testing.T) {
	store := prefix.NewStore(t.TempDir())

	records, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_LinkPlacesFilesAndRecordsSnapshot(t *testing.T) {
	extracted := extractedTree(t, map[string]string{
		"bin/foo":          "#!/bin/sh\n",
		"lib/libfoo.so.1":  "elf",
		"info/index.json":  `{"name": "foo"}`,
		"info/files":       "bin/foo\n",
		"share/doc/README": "docs",
	})

	root := t.TempDir()
	store := prefix.NewStore(root)
	rec := record("foo", "1.0")

	require.NoError(t, store.Link(rec, extracted))

	assert.FileExists(t, filepath.Join(root, "bin", "foo"))
	assert.FileExists(t, filepath.Join(root, "lib", "libfoo.so.1"))
	assert.FileExists(t, filepath.Join(root, "share", "doc", "README"))
	// Package metadata stays in the cache, it is not payload.
	assert.NoFileExists(t, filepath.Join(root, "info", "index.json"))

	assert.FileExists(t, filepath.Join(root, "conda-meta", "foo-1.0-0.json"))

	records, err := store.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "foo", records[0].Name)
	assert.Equal(t, "1.0", records[0].Version)
}

func TestStore_LoadSortsByName(t *testing.T) {
	root := t.TempDir()
	store := prefix.NewStore(root)

	require.NoError(t, store.Link(record("zlib", "1.3"), extractedTree(t, map[string]string{"lib/libz.so": "z"})))
	require.NoError(t, store.Link(record("bzip2", "1.0"), extractedTree(t, map[string]string{"lib/libbz2.so": "b"})))

	records, err := store.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "bzip2", records[0].Name)
	assert.Equal(t, "zlib", records[1].Name)
}

func TestStore_UnlinkRemovesFilesAndPrunesEmptyDirs(t *testing.T) {
	root := t.TempDir()
	store := prefix.NewStore(root)
	rec := record("foo", "1.0")

	require.NoError(t, store.Link(rec, extractedTree(t, map[string]string{
		"bin/foo":         "#!/bin/sh\n",
		"share/foo/extra": "x",
	})))
	require.NoError(t, store.Link(record("bar", "2.0"), extractedTree(t, map[string]string{
		"bin/bar": "#!/bin/sh\n",
	})))

	require.NoError(t, store.Unlink(rec))

	assert.NoFileExists(t, filepath.Join(root, "bin", "foo"))
	assert.NoDirExists(t, filepath.Join(root, "share", "foo"))
	assert.NoDirExists(t, filepath.Join(root, "share"))
	// bin still holds bar's file and must survive.
	assert.FileExists(t, filepath.Join(root, "bin", "bar"))

	records, err := store.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bar", records[0].Name)
}

func TestStore_UnlinkUnknownPackage(t *testing.T) {
	store := prefix.NewStore(t.TempDir())

	err := store.Unlink(record("ghost", "1.0"))
	require.Error(t, err)
}

func TestStore_UnlinkToleratesAlreadyMissingFiles(t *testing.T) {
	root := t.TempDir()
	store := prefix.NewStore(root)
	rec := record("foo", "1.0")

	require.NoError(t, store.Link(rec, extractedTree(t, map[string]string{
		"bin/foo": "#!/bin/sh\n",
		"bin/fox": "#!/bin/sh\n",
	})))
	require.NoError(t, os.Remove(filepath.Join(root, "bin", "foo")))

	require.NoError(t, store.Unlink(rec))
	assert.NoFileExists(t, filepath.Join(root, "bin", "fox"))
}

func TestStore_UnlinkKeepsEntryUntilFilesAreGone(t *testing.T) {
	root := t.TempDir()
	store := prefix.NewStore(root)
	rec := record("foo", "1.0")

	require.NoError(t, store.Link(rec, extractedTree(t, map[string]string{
		"bin/foo": "#!/bin/sh\n",
	})))

	// Swap the payload for a non-empty directory so its removal fails.
	binFoo := filepath.Join(root, "bin", "foo")
	require.NoError(t, os.Remove(binFoo))
	require.NoError(t, os.MkdirAll(filepath.Join(binFoo, "stuck"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(binFoo, "stuck", "f"), []byte("x"), 0o644))

	err := store.Unlink(rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExecution)
	// The snapshot entry goes last, so a failed removal leaves it behind
	// and a retry can finish the unlink.
	assert.FileExists(t, filepath.Join(root, "conda-meta", "foo-1.0-0.json"))
}

func TestStore_LoadRejectsCorruptEntry(t *testing.T) {
	root := t.TempDir()
	metaDir := filepath.Join(root, "conda-meta")
	require.NoError(t, os.MkdirAll(metaDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, "foo-1.0-0.json"), []byte("{not json"), 0o644))

	_, err := prefix.NewStore(root).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt snapshot entry")
}
