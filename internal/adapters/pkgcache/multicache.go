package pkgcache

import (
	"context"

	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"go.trai.ch/zerr"
)

// MultiCache layers package caches in priority order: lookups take the first
// hit, misses are filled into the first writable cache.
type MultiCache struct {
	caches []*Cache
}

// NewMultiCache creates a MultiCache over the given caches, best priority
// first. At least one cache must be writable for misses to be fillable.
func NewMultiCache(caches ...*Cache) *MultiCache {
	return &MultiCache{caches: caches}
}

// EnsureExtracted resolves the record from the first cache that has it, or
// downloads and extracts it into the first writable cache.
func (m *MultiCache) EnsureExtracted(ctx context.Context, record *domain.Record) (string, error) {
	for _, c := range m.caches {
		if c.HasExtracted(record) {
			return c.ExtractedPath(record), nil
		}
	}
	for _, c := range m.caches {
		if c.Writable() {
			return c.EnsureExtracted(ctx, record)
		}
	}
	return "", zerr.With(zerr.New("no writable package cache configured"), "package", record.Identity())
}

var _ ports.PackageCache = (*MultiCache)(nil)
