// Package repodata implements the per-channel-platform metadata source with
// local caching and conditional refetch.
package repodata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	dirPerm  = 0o750
	filePerm = 0o644
)

// Index loads validated record sets for channels, one cache entry per
// repodata URL.
type Index struct {
	cacheDir   string
	offline    bool
	downloader ports.Downloader
	logger     ports.Logger

	mu      sync.Mutex
	changed map[string]bool
}

// NewIndex creates an Index caching under cacheDir.
func NewIndex(cacheDir string, offline bool, dl ports.Downloader, log ports.Logger) (*Index, error) {
	cleanPath := filepath.Clean(cacheDir)
	if err := os.MkdirAll(cleanPath, dirPerm); err != nil {
		return nil, zerr.Wrap(err, "failed to create repodata cache directory")
	}
	return &Index{
		cacheDir:   cleanPath,
		offline:    offline,
		downloader: dl,
		logger:     log,
		changed:    make(map[string]bool),
	}, nil
}

// repodataFile mirrors the channel metadata document: one entry per archive
// filename.
type repodataFile struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages map[string]packageEntry `json:"packages"`
}

type packageEntry struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	Size        int64    `json:"size"`
	SHA256      string   `json:"sha256"`
}

// cacheState is the sidecar holding the validators of the cached payload.
type cacheState struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Load returns the channel's validated record set, fetching only when the
// cached copy is missing or stale. In offline mode no request is made: the
// cache is used or the load fails with ErrCacheMiss.
func (x *Index) Load(ctx context.Context, channel domain.Channel) ([]*domain.Record, error) {
	url := channel.RepodataURL()
	cachePath := x.cachePath(url)
	statePath := cachePath + ".state.json"

	state, hasCache := x.readState(statePath, cachePath, url)

	if x.offline {
		if !hasCache {
			return nil, zerr.With(zerr.Wrap(domain.ErrCacheMiss, ""), "channel", channel.ID())
		}
		return x.parseCache(cachePath, channel)
	}

	target := ports.DownloadTarget{URL: url, Dest: cachePath + ".new"}
	if hasCache {
		target.ETag = state.ETag
		target.LastModified = state.LastModified
	}

	results, err := x.downloader.Run(ctx, []ports.DownloadTarget{target}, ports.RequireAll)
	if err != nil {
		if hasCache {
			x.logger.Warn("repodata fetch failed, falling back to cache",
				"channel", channel.ID(), "error", err)
			return x.parseCache(cachePath, channel)
		}
		return nil, zerr.With(fmt.Errorf("%w: %w", domain.ErrFetch, err), "channel", channel.ID())
	}

	res := results[0]
	switch res.Status {
	case ports.StatusNotModified:
		x.setChanged(channel, false)
	case ports.StatusFetched:
		// Publish payload first, then the validators: a crash in between
		// costs one conditional request, never a torn cache.
		if err := os.Rename(target.Dest, cachePath); err != nil {
			return nil, zerr.Wrap(err, "failed to publish repodata cache")
		}
		x.writeState(statePath, cacheState{
			URL:          url,
			ETag:         res.ETag,
			LastModified: res.LastModified,
			FetchedAt:    time.Now().UTC(),
		})
		x.setChanged(channel, true)
	default:
		return nil, zerr.With(zerr.Wrap(domain.ErrFetch, ""), "channel", channel.ID())
	}

	return x.parseCache(cachePath, channel)
}

// Changed reports whether the last Load for the channel wrote fresh repodata
// rather than reusing the cache.
func (x *Index) Changed(channel domain.Channel) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.changed[channel.ID()]
}

func (x *Index) setChanged(channel domain.Channel, v bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.changed[channel.ID()] = v
}

// cachePath derives a deterministic cache filename from the repodata URL.
func (x *Index) cachePath(url string) string {
	return filepath.Join(x.cacheDir, fmt.Sprintf("%016x.json", xxhash.Sum64String(url)))
}

func (x *Index) readState(statePath, cachePath, url string) (cacheState, bool) {
	if _, err := os.Stat(cachePath); err != nil {
		return cacheState{}, false
	}

	data, err := os.ReadFile(statePath) //nolint:gosec // path is derived from the cache dir
	if err != nil {
		// Payload without validators still counts as a cache hit; the
		// next fetch is simply unconditional.
		return cacheState{}, true
	}

	var state cacheState
	if err := json.Unmarshal(data, &state); err != nil || state.URL != url {
		return cacheState{}, true
	}
	return state, true
}

func (x *Index) writeState(statePath string, state cacheState) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp(x.cacheDir, ".state-*.json")
	if err != nil {
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return
	}
	if err := os.Rename(tmpName, statePath); err != nil {
		_ = os.Remove(tmpName)
	}
}

// parseCache reads the cached payload and turns it into a validated,
// de-duplicated record set.
func (x *Index) parseCache(cachePath string, channel domain.Channel) ([]*domain.Record, error) {
	data, err := os.ReadFile(cachePath) //nolint:gosec // path is derived from the cache dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, zerr.With(zerr.Wrap(domain.ErrCacheMiss, ""), "channel", channel.ID())
		}
		return nil, zerr.Wrap(err, "failed to read repodata cache")
	}
	return Parse(data, channel)
}

// Parse decodes a repodata payload into records for the given channel.
// Entries that fail validation are skipped, not fatal: one malformed
// upstream record must not take the whole channel down.
func Parse(data []byte, channel domain.Channel) ([]*domain.Record, error) {
	var doc repodataFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to parse repodata"), "channel", channel.ID())
	}

	chanName := domain.NewInternedString(channel.Name)
	subdir := domain.NewInternedString(channel.Platform)

	records := make([]*domain.Record, 0, len(doc.Packages))

	for fn, entry := range doc.Packages {
		rec := &domain.Record{
			Name:        entry.Name,
			Version:     entry.Version,
			Build:       entry.Build,
			BuildNumber: entry.BuildNumber,
			Depends:     entry.Depends,
			Channel:     chanName,
			Subdir:      subdir,
			Filename:    fn,
			URL:         channel.PlatformURL() + "/" + fn,
			Size:        entry.Size,
			SHA256:      entry.SHA256,
		}
		if !validRecord(rec) {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func validRecord(r *domain.Record) bool {
	if r.Name == "" || r.Version == "" {
		return false
	}
	if _, err := domain.ParseVersion(r.Version); err != nil {
		return false
	}
	if _, err := r.DependSpecs(); err != nil {
		return false
	}
	return true
}

var _ ports.RepodataLoader = (*Index)(nil)
