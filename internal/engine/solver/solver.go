// Package solver turns install/remove jobs over a pool into a resolved
// record set by encoding candidate selection as boolean satisfiability.
package solver

import (
	"sort"

	"github.com/crillab/gophersat/bf"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"github.com/marimeireles/mamba/internal/engine/pool"
	"go.trai.ch/zerr"
)

// ResolvedSet maps each package name to the single chosen record.
type ResolvedSet map[string]*domain.Record

// Solver resolves jobs against a pool. One Solver serves one solve call;
// it keeps no state across invocations.
type Solver struct {
	pool   *pool.Pool
	logger ports.Logger
}

// New creates a Solver over the pool.
func New(p *pool.Pool, log ports.Logger) *Solver {
	return &Solver{pool: p, logger: log}
}

// problem is the encoded constraint system for one solve.
type problem struct {
	// clauses are the hard constraints: job requirements, dependency
	// implications and per-name exclusivity.
	clauses []bf.Formula

	// vars maps variable names to their candidate.
	vars map[string]pool.Candidate

	// candVars lists, per package name, the candidate variable names in
	// deterministic preference order.
	candVars map[string][]string

	// removed names are asserted absent by a remove job.
	removed map[string]bool

	// installGuarded names have a downgrade guard applied.
	installNames []string
}

// Solve resolves the jobs. On success every chosen record's dependencies are
// satisfied by another chosen record and no two records share a name. On
// failure it returns a *domain.Conflict naming the minimal incompatible set
// of requested specs; the pool and installed state are never mutated.
func (s *Solver) Solve(jobs []domain.Job) (ResolvedSet, error) {
	if len(jobs) == 0 {
		resolved := make(ResolvedSet)
		for _, rec := range s.pool.InstalledRecords() {
			resolved[rec.Name] = rec
		}
		return resolved, nil
	}
	if err := checkDuplicateJobs(jobs); err != nil {
		return nil, err
	}

	prob, err := s.encode(jobs)
	if err != nil {
		return nil, err
	}

	if bf.Solve(and(prob.clauses)) == nil {
		return nil, s.explain(jobs)
	}

	return s.selectModel(prob)
}

func checkDuplicateJobs(jobs []domain.Job) error {
	seen := make(map[string]domain.Job, len(jobs))
	for _, j := range jobs {
		if prev, dup := seen[j.Spec.Name]; dup {
			return &domain.Conflict{
				Specs:  []string{prev.Spec.String(), j.Spec.String()},
				Reason: "the same package is targeted twice in one request",
			}
		}
		seen[j.Spec.Name] = j
	}
	return nil
}

// encode builds the hard constraint system: for every reachable package
// name, candidates are mutually exclusive choices; every candidate implies
// one satisfier per dependency constraint; install jobs require a matching
// candidate and remove jobs forbid all of them.
func (s *Solver) encode(jobs []domain.Job) (*problem, error) {
	prob := &problem{
		vars:     make(map[string]pool.Candidate),
		candVars: make(map[string][]string),
		removed:  make(map[string]bool),
	}

	allowDowngrade := make(map[string]bool)
	for _, j := range jobs {
		if j.Kind == domain.JobRemove {
			prob.removed[j.Spec.Name] = true
		}
		if j.AllowDowngrade {
			allowDowngrade[j.Spec.Name] = true
		}
	}

	names := s.reachableNames(jobs)
	for _, name := range names {
		s.encodeName(prob, name, allowDowngrade[name])
	}

	for _, j := range jobs {
		switch j.Kind {
		case domain.JobInstall:
			clause, err := s.encodeInstall(prob, j)
			if err != nil {
				return nil, err
			}
			prob.clauses = append(prob.clauses, clause)
			prob.installNames = append(prob.installNames, j.Spec.Name)
		case domain.JobRemove:
			for _, v := range prob.candVars[j.Spec.Name] {
				prob.clauses = append(prob.clauses, bf.Not(bf.Var(v)))
			}
		}
	}
	sort.Strings(prob.installNames)

	return prob, nil
}

// encodeName registers the name's candidates, their exclusivity and their
// dependency implications.
func (s *Solver) encodeName(prob *problem, name string, allowDowngrade bool) {
	cands := s.candidates(name, allowDowngrade)

	varNames := make([]string, 0, len(cands))
	for _, c := range cands {
		v := candidateVar(c)
		if _, dup := prob.vars[v]; dup {
			continue
		}
		prob.vars[v] = c
		varNames = append(varNames, v)
	}
	prob.candVars[name] = varNames

	// A package name resolves to at most one record.
	for i := range varNames {
		for j := i + 1; j < len(varNames); j++ {
			prob.clauses = append(prob.clauses,
				bf.Or(bf.Not(bf.Var(varNames[i])), bf.Not(bf.Var(varNames[j]))))
		}
	}

	// Choosing a candidate requires a satisfier for each dependency.
	for _, v := range varNames {
		rec := prob.vars[v].Record
		specs, err := rec.DependSpecs()
		if err != nil {
			// Invalid records are filtered at load time; treat any
			// stray one as unselectable.
			prob.clauses = append(prob.clauses, bf.Not(bf.Var(v)))
			continue
		}
		for _, dep := range specs {
			satisfiers := s.matchingVars(prob, dep)
			if len(satisfiers) == 0 {
				prob.clauses = append(prob.clauses, bf.Not(bf.Var(v)))
				continue
			}
			terms := make([]bf.Formula, 0, len(satisfiers)+1)
			terms = append(terms, bf.Not(bf.Var(v)))
			for _, sv := range satisfiers {
				terms = append(terms, bf.Var(sv))
			}
			prob.clauses = append(prob.clauses, bf.Or(terms...))
		}
	}
}

func (s *Solver) encodeInstall(prob *problem, j domain.Job) (bf.Formula, error) {
	if j.ExactPin && !j.Spec.IsExact() {
		return nil, zerr.With(zerr.With(zerr.Wrap(domain.ErrInvalidSpec, ""),
			"reason", "exact pin requires an exact version spec"),
			"spec", j.Spec.String())
	}
	matching := s.matchingVarsForName(prob, j.Spec)
	if len(matching) == 0 {
		return nil, &domain.Conflict{
			Specs:  []string{j.Spec.String()},
			Reason: s.noCandidateReason(j),
		}
	}
	terms := make([]bf.Formula, 0, len(matching))
	for _, v := range matching {
		terms = append(terms, bf.Var(v))
	}
	return bf.Or(terms...), nil
}

func (s *Solver) noCandidateReason(j domain.Job) string {
	all := s.pool.Candidates(j.Spec.Name)
	if len(all) == 0 {
		return "package not found in any channel"
	}
	for _, c := range all {
		if j.Spec.Matches(c.Record) {
			return "matching versions are older than the installed one (use allow-downgrade)"
		}
	}
	return "no version satisfies the spec"
}

// candidates returns the name's candidates with the downgrade guard
// applied: unless relaxed, records older than the installed version are not
// selectable.
func (s *Solver) candidates(name string, allowDowngrade bool) []pool.Candidate {
	cands := s.pool.Candidates(name)
	installed, ok := s.pool.Installed(name)
	if !ok || allowDowngrade {
		return cands
	}
	installedVersion, err := domain.ParseVersion(installed.Version)
	if err != nil {
		return cands
	}

	kept := cands[:0:0]
	for _, c := range cands {
		if c.Version().Compare(installedVersion) >= 0 {
			kept = append(kept, c)
		}
	}
	return kept
}

// matchingVars returns the registered variables whose record satisfies the
// spec, in preference order.
func (s *Solver) matchingVars(prob *problem, spec domain.MatchSpec) []string {
	return s.matchingVarsForName(prob, spec)
}

func (s *Solver) matchingVarsForName(prob *problem, spec domain.MatchSpec) []string {
	var out []string
	for _, v := range prob.candVars[spec.Name] {
		if spec.Matches(prob.vars[v].Record) {
			out = append(out, v)
		}
	}
	return out
}

// reachableNames collects every package name the solve can touch: job
// targets, the installed snapshot, and the transitive dependency names of
// any candidate of those.
func (s *Solver) reachableNames(jobs []domain.Job) []string {
	seen := make(map[string]bool)
	var queue []string

	push := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			queue = append(queue, name)
		}
	}

	for _, j := range jobs {
		push(j.Spec.Name)
	}
	for _, rec := range s.pool.InstalledRecords() {
		push(rec.Name)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, c := range s.pool.Candidates(name) {
			specs, err := c.Record.DependSpecs()
			if err != nil {
				continue
			}
			for _, dep := range specs {
				push(dep.Name)
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func candidateVar(c pool.Candidate) string {
	id := c.Record.Filename
	if id == "" {
		id = c.Record.Identity()
	}
	return c.Record.Channel.String() + "::" + id
}

func and(clauses []bf.Formula) bf.Formula {
	switch len(clauses) {
	case 0:
		return bf.True
	case 1:
		return clauses[0]
	}
	return bf.And(clauses...)
}
