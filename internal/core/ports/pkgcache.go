package ports

import (
	"context"

	"github.com/marimeireles/mamba/internal/core/domain"
)

// PackageCache is the content-addressed store of downloaded archives and
// extracted package trees.
type PackageCache interface {
	// EnsureExtracted returns the directory holding the fully extracted
	// package, downloading and extracting at most once per identity.
	// Concurrent callers for the same identity observe either nothing or
	// a complete extraction, never a partial one.
	EnsureExtracted(ctx context.Context, record *domain.Record) (string, error)
}
