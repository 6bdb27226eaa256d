// Package pkgcache implements the content-addressed package cache: raw
// archives and extracted package trees, safe under concurrent access.
package pkgcache

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

const (
	dirPerm = 0o750

	// archivesDir is the side area for raw downloads under the cache root.
	archivesDir = "archives"
)

// Cache is one package cache root. Extractions are published by renaming a
// fully populated temp directory into place, so the presence of the identity
// directory means the extraction is complete; the rename doubles as the
// cross-process mutual-exclusion point.
type Cache struct {
	root       string
	writable   bool
	downloader ports.Downloader
	logger     ports.Logger

	group singleflight.Group
}

// NewCache creates a cache rooted at root. Only writable caches download
// and extract; read-only caches serve lookups.
func NewCache(root string, writable bool, dl ports.Downloader, log ports.Logger) (*Cache, error) {
	cleanRoot := filepath.Clean(root)
	if writable {
		if err := os.MkdirAll(filepath.Join(cleanRoot, archivesDir), dirPerm); err != nil {
			return nil, zerr.Wrap(err, "failed to create package cache")
		}
	}
	return &Cache{
		root:       cleanRoot,
		writable:   writable,
		downloader: dl,
		logger:     log,
	}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Writable reports whether this cache may download and extract.
func (c *Cache) Writable() bool {
	return c.writable
}

// ExtractedPath is the directory an extraction of the record publishes to.
func (c *Cache) ExtractedPath(record *domain.Record) string {
	return filepath.Join(c.root, record.Identity())
}

func (c *Cache) archivePath(record *domain.Record) string {
	fn := record.Filename
	if fn == "" {
		fn = record.Identity() + ".tar.bz2"
	}
	return filepath.Join(c.root, archivesDir, fn)
}

// HasExtracted reports whether a complete extraction exists.
func (c *Cache) HasExtracted(record *domain.Record) bool {
	info, err := os.Stat(c.ExtractedPath(record))
	return err == nil && info.IsDir()
}

// EnsureExtracted returns the extracted directory for the record,
// downloading and extracting at most once per identity. Concurrent callers
// share the same flight; repeated calls hit the fast path.
func (c *Cache) EnsureExtracted(ctx context.Context, record *domain.Record) (string, error) {
	dest := c.ExtractedPath(record)
	if c.HasExtracted(record) {
		return dest, nil
	}
	if !c.writable {
		return "", zerr.With(zerr.New("package missing from read-only cache"), "package", record.Identity())
	}

	key := record.Identity() + "@" + record.SHA256
	_, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// published while we waited.
		if c.HasExtracted(record) {
			return dest, nil
		}

		archive, err := c.ensureArchive(ctx, record)
		if err != nil {
			return nil, err
		}
		return dest, c.extractAndPublish(archive, dest)
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// ensureArchive returns a verified archive path, downloading when the cached
// copy is missing or fails verification.
func (c *Cache) ensureArchive(ctx context.Context, record *domain.Record) (string, error) {
	path := c.archivePath(record)

	ok, err := c.verifyArchive(path, record)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}

	if record.URL == "" {
		return "", zerr.With(zerr.With(zerr.Wrap(domain.ErrFetch, ""), "reason", "record has no download URL"), "package", record.Identity())
	}

	target := ports.DownloadTarget{
		URL:            record.URL,
		Dest:           path,
		ExpectedSize:   record.Size,
		ExpectedDigest: record.Digest(),
	}
	results, err := c.downloader.Run(ctx, []ports.DownloadTarget{target}, ports.RequireAll)
	if err != nil {
		return "", err
	}
	if results[0].Status != ports.StatusFetched {
		return "", zerr.With(zerr.Wrap(domain.ErrFetch, ""), "url", record.URL)
	}
	return path, nil
}

// verifyArchive checks an existing archive against the record digest.
// A corrupt cached archive counts as a miss and is removed, it does not
// fail the step; only a fresh download that mismatches is fatal.
func (c *Cache) verifyArchive(path string, record *domain.Record) (bool, error) {
	f, err := os.Open(path) //nolint:gosec // path is derived from the cache root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, zerr.Wrap(err, "failed to open cached archive")
	}
	defer func() { _ = f.Close() }()

	expected := record.Digest()
	if expected == "" {
		// No digest in repodata: accept the cached bytes as-is.
		return true, nil
	}

	verifier := expected.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return false, zerr.Wrap(err, "failed to read cached archive")
	}
	if verifier.Verified() {
		return true, nil
	}

	c.logger.Warn("cached archive failed verification, refetching",
		"package", record.Identity())
	_ = os.Remove(path)
	return false, nil
}

// extractAndPublish extracts into a private temp directory and renames it
// into place. Callers in other processes either see nothing or a complete
// tree, and a concurrent publish of the same identity wins harmlessly.
func (c *Cache) extractAndPublish(archive, dest string) error {
	tmp, err := os.MkdirTemp(c.root, ".extract-*")
	if err != nil {
		return zerr.Wrap(err, "failed to create extraction directory")
	}
	defer func() {
		if _, statErr := os.Stat(tmp); statErr == nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := extractArchive(archive, tmp); err != nil {
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			// Another process published first.
			return nil
		}
		return zerr.Wrap(err, "failed to publish extraction")
	}
	return nil
}

var _ ports.PackageCache = (*Cache)(nil)
