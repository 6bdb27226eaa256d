package ports

import "github.com/marimeireles/mamba/internal/core/domain"

// ConfigLoader reads the user's rc file and folds it into the run options.
// Flags set by the CLI take precedence over file values.
type ConfigLoader interface {
	// Load merges the rc file at path (missing files are not an error)
	// into opts and returns the result.
	Load(path string, opts domain.Options) (domain.Options, error)
}
