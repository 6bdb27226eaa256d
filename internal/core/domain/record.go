package domain

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Record is the immutable description of one concrete package as it appears
// in channel repodata or in the installed snapshot. Fields mirror the
// repodata JSON entry; a Record is never mutated after parsing.
type Record struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Build       string         `json:"build"`
	BuildNumber int            `json:"build_number"`
	Depends     []string       `json:"depends,omitempty"`
	Channel     InternedString `json:"channel,omitempty"`
	Subdir      InternedString `json:"subdir,omitempty"`
	Filename    string         `json:"fn,omitempty"`
	URL         string         `json:"url,omitempty"`
	Size        int64          `json:"size,omitempty"`
	SHA256      string         `json:"sha256,omitempty"`
}

// Identity is the cache key for one concrete package: name, version and
// build joined the way archive filenames are built.
func (r *Record) Identity() string {
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Version, r.Build)
}

// Digest returns the expected content digest of the package archive, or the
// empty digest if the repodata carried none.
func (r *Record) Digest() digest.Digest {
	if r.SHA256 == "" {
		return ""
	}
	return digest.NewDigestFromEncoded(digest.SHA256, r.SHA256)
}

// DependSpecs parses the record's dependency constraints.
func (r *Record) DependSpecs() ([]MatchSpec, error) {
	if len(r.Depends) == 0 {
		return nil, nil
	}
	specs := make([]MatchSpec, 0, len(r.Depends))
	for _, dep := range r.Depends {
		spec, err := ParseMatchSpec(dep)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// String renders the record as name-version-build, the conventional short
// form used in reports and errors.
func (r *Record) String() string {
	return r.Identity()
}
