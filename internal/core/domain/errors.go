package domain

import "go.trai.ch/zerr"

var (
	// ErrConfig is returned for a missing or invalid root/target prefix or
	// channel configuration. It is always raised before any I/O happens.
	ErrConfig = zerr.New("invalid configuration")

	// ErrPrefixNotFound is returned when the target prefix does not exist.
	ErrPrefixNotFound = zerr.New("target prefix does not exist")

	// ErrPrefixExists is returned when creating an environment over an
	// existing prefix.
	ErrPrefixExists = zerr.New("target prefix already exists")

	// ErrFetch is returned when a download fails after all retries, or when
	// offline mode has no cached copy to fall back to.
	ErrFetch = zerr.New("download failed")

	// ErrIntegrity is returned when a downloaded artifact does not match its
	// expected digest. It is never retried.
	ErrIntegrity = zerr.New("digest mismatch")

	// ErrExecution is returned when a link or unlink step fails mid
	// transaction. Already committed steps are left in place.
	ErrExecution = zerr.New("transaction step failed")

	// ErrCacheMiss is returned by a repodata load in offline mode when no
	// cached copy exists. It is a fetch failure, so errors.Is matches
	// ErrFetch as well.
	ErrCacheMiss = zerr.Wrap(ErrFetch, "no cached repodata")

	// ErrInvalidSpec is returned when a match spec cannot be parsed.
	ErrInvalidSpec = zerr.New("invalid match spec")

	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = zerr.New("invalid version")

	// ErrConflict is the sentinel wrapped by Conflict values.
	ErrConflict = zerr.New("unsatisfiable requests")
)

// Conflict describes why a solve failed: the minimal set of requested specs
// that cannot hold together. It satisfies errors.Is(err, ErrConflict).
type Conflict struct {
	// Specs are the requested specs that are mutually incompatible.
	Specs []string

	// Reason is a human readable explanation.
	Reason string
}

func (c *Conflict) Error() string {
	msg := "cannot satisfy requests"
	for _, s := range c.Specs {
		msg += "\n  - " + s
	}
	if c.Reason != "" {
		msg += "\n" + c.Reason
	}
	return msg
}

// Unwrap makes Conflict values match ErrConflict with errors.Is.
func (c *Conflict) Unwrap() error {
	return ErrConflict
}
