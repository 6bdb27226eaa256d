package ports

import "github.com/marimeireles/mamba/internal/core/domain"

// PrefixStore is the installed snapshot of one target environment: the
// per-package metadata entries plus the linked files they describe.
// Implementations serialize mutations; the snapshot never names a package
// whose files are not fully in place.
type PrefixStore interface {
	// Prefix returns the environment root path.
	Prefix() string

	// Load reads the snapshot, one record per installed package.
	Load() ([]*domain.Record, error)

	// Link places the extracted package's files into the prefix and then
	// atomically writes the snapshot entry recording them.
	Link(record *domain.Record, extractedDir string) error

	// Unlink removes the snapshot entry and then the files it listed.
	Unlink(record *domain.Record) error
}
