// Package prefix implements the installed snapshot of a target environment:
// one metadata entry per installed package under conda-meta, each listing
// the files the package placed.
package prefix

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	metaDirName = "conda-meta"
	dirPerm     = 0o750
	filePerm    = 0o644
)

// Store implements ports.PrefixStore on a directory tree. Mutations are
// serialized by an in-process mutex; the snapshot is single-writer.
type Store struct {
	prefix string
	mu     sync.Mutex
}

// NewStore creates a Store for the environment rooted at prefix.
func NewStore(prefix string) *Store {
	return &Store{prefix: filepath.Clean(prefix)}
}

// metaEntry is the on-disk snapshot entry: the record plus the files it
// placed, enough to reverse the link.
type metaEntry struct {
	domain.Record
	Files    []string  `json:"files"`
	LinkedAt time.Time `json:"linked_at"`
}

// Prefix returns the environment root.
func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) metaDir() string {
	return filepath.Join(s.prefix, metaDirName)
}

func (s *Store) metaPath(record *domain.Record) string {
	return filepath.Join(s.metaDir(), record.Identity()+".json")
}

// Load reads the snapshot. A missing conda-meta directory is an empty
// environment, not an error.
func (s *Store) Load() ([]*domain.Record, error) {
	entries, err := os.ReadDir(s.metaDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.Wrap(err, "failed to read installed snapshot")
	}

	records := make([]*domain.Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		entry, err := s.readEntry(filepath.Join(s.metaDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		rec := entry.Record
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *Store) readEntry(path string) (*metaEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the prefix
	if err != nil {
		return nil, zerr.Wrap(err, "failed to read snapshot entry")
	}
	var entry metaEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "corrupt snapshot entry"), "path", path)
	}
	return &entry, nil
}

// Link places the extracted package's files into the prefix, then atomically
// writes the snapshot entry. A crash before the entry write leaves files the
// snapshot does not claim; it never claims files that are not in place.
func (s *Store) Link(record *domain.Record, extractedDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.linkTree(extractedDir)
	if err != nil {
		return zerr.With(fmt.Errorf("%w: %w", domain.ErrExecution, err), "package", record.Identity())
	}

	entry := metaEntry{
		Record:   *record,
		Files:    files,
		LinkedAt: time.Now().UTC(),
	}
	if err := s.writeEntry(record, &entry); err != nil {
		return zerr.With(fmt.Errorf("%w: %w", domain.ErrExecution, err), "package", record.Identity())
	}
	return nil
}

// linkTree hard-links every payload file of the extracted package into the
// prefix, falling back to a copy across filesystems. The archive's info/
// directory carries package metadata and is not part of the payload.
func (s *Store) linkTree(extractedDir string) ([]string, error) {
	var files []string
	root := filepath.Clean(extractedDir)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if rel == "info" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(s.prefix, rel), dirPerm)
		}

		dest := filepath.Join(s.prefix, rel)
		if err := linkOrCopy(path, dest); err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func linkOrCopy(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return err
	}
	_ = os.Remove(dest)
	if err := os.Link(src, dest); err == nil {
		return nil
	}

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	}

	in, err := os.Open(src) //nolint:gosec // src is inside the package cache
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode()) //nolint:gosec // dest is inside the prefix
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// writeEntry persists the snapshot entry atomically (temp file + rename).
func (s *Store) writeEntry(record *domain.Record, entry *metaEntry) error {
	if err := os.MkdirAll(s.metaDir(), dirPerm); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.metaDir(), ".meta-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return err
	}
	return os.Rename(tmpName, s.metaPath(record))
}

// Unlink removes the listed files first, then the snapshot entry. After a
// crash in between, the entry still names the package and a retried unlink
// finishes the job, since already-missing files are tolerated.
func (s *Store) Unlink(record *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.readEntry(s.metaPath(record))
	if err != nil {
		return zerr.With(fmt.Errorf("%w: %w", domain.ErrExecution, err), "package", record.Identity())
	}

	for _, rel := range entry.Files {
		path := filepath.Join(s.prefix, rel)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return zerr.With(fmt.Errorf("%w: %w", domain.ErrExecution, err), "file", rel)
		}
		s.pruneEmptyDirs(filepath.Dir(path))
	}

	if err := os.Remove(s.metaPath(record)); err != nil {
		return zerr.With(fmt.Errorf("%w: %w", domain.ErrExecution, err), "package", record.Identity())
	}
	return nil
}

// pruneEmptyDirs removes now-empty parent directories up to the prefix root.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.prefix && strings.HasPrefix(dir, s.prefix) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

var _ ports.PrefixStore = (*Store)(nil)
