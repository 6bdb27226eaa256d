package pkgcache_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/marimeireles/mamba/internal/adapters/pkgcache"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingLogger struct {
	warns []string
}

func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Info(string, ...any)  {}
func (l *capturingLogger) Error(error)          {}

func (l *capturingLogger) Warn(msg string, _ ...any) {
	l.warns = append(l.warns, msg)
}

// payloadDownloader writes the same canned archive for every target.
type payloadDownloader struct {
	payload []byte
	calls   atomic.Int32
}

func (d *payloadDownloader) Run(_ context.Context, targets []ports.DownloadTarget, _ ports.DownloadMode) ([]ports.DownloadResult, error) {
	d.calls.Add(1)
	results := make([]ports.DownloadResult, 0, len(targets))
	for _, target := range targets {
		if err := os.WriteFile(target.Dest, d.payload, 0o600); err != nil {
			return nil, err
		}
		results = append(results, ports.DownloadResult{Target: target, Status: ports.StatusFetched})
	}
	return results, nil
}

// buildArchive produces a .tar.zst package archive with a small file tree.
func buildArchive(t *testing.T) []byte {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	entries := []struct {
		name    string
		content string
	}{
		{"info/index.json", `{"name": "foo"}`},
		{"bin/foo", "#!/bin/sh\necho foo\n"},
		{"lib/libfoo.so.1", "elf bytes"},
	}
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: e.name,
			Mode: 0o644,
			Size: int64(len(e.content)),
		}))
		_, err := tw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "lib/libfoo.so",
		Typeflag: tar.TypeSymlink,
		Linkname: "libfoo.so.1",
	}))
	require.NoError(t, tw.Close())

	var out bytes.Buffer
	zw, err := zstd.NewWriter(&out)
	require.NoError(t, err)
	_, err = zw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func testRecord(payload []byte) *domain.Record {
	sum := sha256.Sum256(payload)
	return &domain.Record{
		Name:     "foo",
		Version:  "1.0",
		Build:    "0",
		Filename: "foo-1.0-0.tar.zst",
		URL:      "https://repo.example.test/linux-64/foo-1.0-0.tar.zst",
		Size:     int64(len(payload)),
		SHA256:   hex.EncodeToString(sum[:]),
	}
}

func TestCache_EnsureExtracted_DownloadsAndExtractsOnce(t *testing.T) {
	payload := buildArchive(t)
	record := testRecord(payload)
	dl := &payloadDownloader{payload: payload}

	cache, err := pkgcache.NewCache(t.TempDir(), true, dl, &capturingLogger{})
	require.NoError(t, err)

	dir, err := cache.EnsureExtracted(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, cache.ExtractedPath(record), dir)

	content, err := os.ReadFile(filepath.Join(dir, "bin", "foo"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "echo foo")

	link, err := os.Readlink(filepath.Join(dir, "lib", "libfoo.so"))
	require.NoError(t, err)
	assert.Equal(t, "libfoo.so.1", link)

	// Second call is a pure lookup.
	again, err := cache.EnsureExtracted(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.Equal(t, int32(1), dl.calls.Load())
}

func TestCache_EnsureExtracted_ConcurrentCallersShareOneExtraction(t *testing.T) {
	payload := buildArchive(t)
	record := testRecord(payload)
	dl := &payloadDownloader{payload: payload}

	cache, err := pkgcache.NewCache(t.TempDir(), true, dl, &capturingLogger{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.EnsureExtracted(context.Background(), record)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dl.calls.Load())
	assert.True(t, cache.HasExtracted(record))
}

func TestCache_EnsureExtracted_RefetchesCorruptArchive(t *testing.T) {
	payload := buildArchive(t)
	record := testRecord(payload)
	dl := &payloadDownloader{payload: payload}
	log := &capturingLogger{}

	root := t.TempDir()
	cache, err := pkgcache.NewCache(root, true, dl, log)
	require.NoError(t, err)

	// Seed the archive area with bytes that fail digest verification.
	corrupt := filepath.Join(root, "archives", record.Filename)
	require.NoError(t, os.WriteFile(corrupt, []byte("truncated download"), 0o600))

	dir, err := cache.EnsureExtracted(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, cache.HasExtracted(record))
	assert.FileExists(t, filepath.Join(dir, "info", "index.json"))

	assert.Equal(t, int32(1), dl.calls.Load())
	require.NotEmpty(t, log.warns)
	assert.Contains(t, log.warns[0], "failed verification")
}

func TestCache_ReadOnlyServesLookupsButNeverDownloads(t *testing.T) {
	payload := buildArchive(t)
	record := testRecord(payload)
	dl := &payloadDownloader{payload: payload}

	root := t.TempDir()
	cache, err := pkgcache.NewCache(root, false, dl, &capturingLogger{})
	require.NoError(t, err)

	_, err = cache.EnsureExtracted(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
	assert.Equal(t, int32(0), dl.calls.Load())

	// A tree published out of band is served as a hit.
	require.NoError(t, os.MkdirAll(cache.ExtractedPath(record), 0o750))
	dir, err := cache.EnsureExtracted(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, cache.ExtractedPath(record), dir)
}

func TestMultiCache_FirstHitWinsAndMissesFillWritable(t *testing.T) {
	payload := buildArchive(t)
	record := testRecord(payload)
	dl := &payloadDownloader{payload: payload}

	readOnly, err := pkgcache.NewCache(t.TempDir(), false, dl, &capturingLogger{})
	require.NoError(t, err)
	writable, err := pkgcache.NewCache(t.TempDir(), true, dl, &capturingLogger{})
	require.NoError(t, err)

	multi := pkgcache.NewMultiCache(readOnly, writable)

	// Pre-seed the read-only cache: it must win over a download.
	require.NoError(t, os.MkdirAll(readOnly.ExtractedPath(record), 0o750))
	dir, err := multi.EnsureExtracted(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, readOnly.ExtractedPath(record), dir)
	assert.Equal(t, int32(0), dl.calls.Load())

	other := testRecord(payload)
	other.Name = "bar"
	other.Filename = "bar-1.0-0.tar.zst"

	dir, err = multi.EnsureExtracted(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, writable.ExtractedPath(other), dir)
	assert.Equal(t, int32(1), dl.calls.Load())
}

func TestMultiCache_NoWritableCacheIsAnError(t *testing.T) {
	record := testRecord([]byte("unused"))
	readOnly, err := pkgcache.NewCache(t.TempDir(), false, nil, &capturingLogger{})
	require.NoError(t, err)

	_, err = pkgcache.NewMultiCache(readOnly).EnsureExtracted(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no writable package cache")
}
