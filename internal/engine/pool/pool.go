// Package pool aggregates the record sets of all repos for one resolution
// run and serves prioritized candidate lookups.
package pool

import (
	"sort"

	"github.com/marimeireles/mamba/internal/core/domain"
)

// InstalledRank marks the installed-snapshot repo. It sorts after every
// channel for candidate ordering; stability of installed records is handled
// separately by the solver's tie-break.
const InstalledRank = int(^uint(0) >> 1)

// Repo is a named, prioritized collection of records from one provenance.
// Immutable after construction.
type Repo struct {
	name        string
	rank        int
	subPriority int
	installed   bool
	byName      map[string][]*domain.Record
	count       int
}

// NewRepo builds a repo from records. Lower rank is preferred; ties break on
// higher subPriority.
func NewRepo(name string, rank, subPriority int, records []*domain.Record) *Repo {
	r := &Repo{
		name:        name,
		rank:        rank,
		subPriority: subPriority,
		byName:      make(map[string][]*domain.Record),
	}
	for _, rec := range records {
		r.byName[rec.Name] = append(r.byName[rec.Name], rec)
		r.count++
	}
	return r
}

// NewInstalledRepo builds the repo backing the installed snapshot.
func NewInstalledRepo(records []*domain.Record) *Repo {
	r := NewRepo("installed", InstalledRank, 0, records)
	r.installed = true
	return r
}

// Name returns the repo's provenance name.
func (r *Repo) Name() string { return r.name }

// Size returns the number of records.
func (r *Repo) Size() int { return r.count }

// Candidate is one record together with the provenance facts the solver's
// tie-break needs.
type Candidate struct {
	Record      *domain.Record
	Rank        int
	SubPriority int
	Installed   bool

	version domain.Version
}

// Version returns the candidate's parsed version.
func (c Candidate) Version() domain.Version { return c.version }

// Pool is the union of all repos for one resolution run. Created per
// invocation and discarded afterwards.
type Pool struct {
	repos     []*Repo
	installed map[string]*domain.Record
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{installed: make(map[string]*domain.Record)}
}

// AddRepo registers a repo. The installed repo additionally feeds the
// installed-record lookup used for solver stability and downgrade guards.
func (p *Pool) AddRepo(r *Repo) {
	p.repos = append(p.repos, r)
	if r.installed {
		for name, recs := range r.byName {
			if len(recs) > 0 {
				p.installed[name] = recs[0]
			}
		}
	}
}

// Installed returns the installed record for name, if any.
func (p *Pool) Installed(name string) (*domain.Record, bool) {
	rec, ok := p.installed[name]
	return rec, ok
}

// InstalledRecords returns the full installed snapshot known to the pool.
func (p *Pool) InstalledRecords() []*domain.Record {
	names := make([]string, 0, len(p.installed))
	for name := range p.installed {
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]*domain.Record, 0, len(names))
	for _, name := range names {
		records = append(records, p.installed[name])
	}
	return records
}

// Names returns every package name known to the pool, sorted.
func (p *Pool) Names() []string {
	seen := make(map[string]struct{})
	for _, r := range p.repos {
		for name := range r.byName {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Candidates returns every record for name across all repos, sorted by the
// deterministic preference order: installed first, then better repo rank,
// then newer version, newer build number, build string, filename. Records
// with unparseable versions were filtered at load time and cannot occur.
func (p *Pool) Candidates(name string) []Candidate {
	var cands []Candidate
	for _, r := range p.repos {
		for _, rec := range r.byName[name] {
			v, err := domain.ParseVersion(rec.Version)
			if err != nil {
				continue
			}
			cands = append(cands, Candidate{
				Record:      rec,
				Rank:        r.rank,
				SubPriority: r.subPriority,
				Installed:   r.installed,
				version:     v,
			})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Installed != b.Installed {
			return a.Installed
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.SubPriority != b.SubPriority {
			return a.SubPriority > b.SubPriority
		}
		if c := a.version.Compare(b.version); c != 0 {
			return c > 0
		}
		if a.Record.BuildNumber != b.Record.BuildNumber {
			return a.Record.BuildNumber > b.Record.BuildNumber
		}
		if a.Record.Build != b.Record.Build {
			return a.Record.Build > b.Record.Build
		}
		return a.Record.Filename < b.Record.Filename
	})
	return cands
}
