package solver

import (
	"sort"

	"github.com/crillab/gophersat/bf"
	"github.com/marimeireles/mamba/internal/core/domain"
)

// selectModel picks one concrete model out of the satisfiable constraint
// system. Rather than taking whatever assignment the SAT engine happens to
// find, choices are committed name by name in preference order, so the same
// inputs always resolve to the same set:
//
//  1. requested names first, then their dependencies as they are chosen,
//  2. per name, the pool's candidate order (installed, channel priority,
//     newest version) decides which record is tried first,
//  3. installed packages nobody asked about are kept when the constraints
//     allow it and dropped otherwise.
func (s *Solver) selectModel(prob *problem) (ResolvedSet, error) {
	sel := &selection{
		prob:      prob,
		committed: append([]bf.Formula(nil), prob.clauses...),
		chosen:    make(ResolvedSet),
		decided:   make(map[string]bool),
	}

	// Requested packages and, transitively, the dependencies of whatever
	// record gets chosen for them.
	queue := append([]string(nil), prob.installNames...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if sel.decided[name] {
			continue
		}
		rec, ok := sel.commitBest(name)
		if !ok {
			// Hard job clauses guarantee requested names commit; a
			// dependency that cannot commit means its parent could
			// not have committed either.
			continue
		}
		queue = append(queue, dependNames(rec)...)
	}

	// Keep the rest of the installed snapshot where possible.
	installed := s.pool.InstalledRecords()
	sort.Slice(installed, func(i, j int) bool { return installed[i].Name < installed[j].Name })
	for _, rec := range installed {
		if sel.decided[rec.Name] || prob.removed[rec.Name] {
			continue
		}
		chosen, ok := sel.commitBest(rec.Name)
		if !ok {
			s.logger.Debug("dropping installed package to satisfy request", "package", rec.Identity())
			continue
		}
		queue = append(queue, dependNames(chosen)...)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if sel.decided[name] {
			continue
		}
		if rec, ok := sel.commitBest(name); ok {
			queue = append(queue, dependNames(rec)...)
		}
	}

	return sel.chosen, nil
}

type selection struct {
	prob      *problem
	committed []bf.Formula
	chosen    ResolvedSet
	decided   map[string]bool
}

// commitBest fixes name to its most preferred candidate that keeps the
// system satisfiable, or asserts its absence when none does.
func (sel *selection) commitBest(name string) (*domain.Record, bool) {
	sel.decided[name] = true
	for _, v := range sel.prob.candVars[name] {
		trial := append(sel.committed, bf.Var(v))
		if bf.Solve(and(trial)) == nil {
			continue
		}
		sel.committed = trial
		rec := sel.prob.vars[v].Record
		sel.chosen[name] = rec
		return rec, true
	}
	for _, v := range sel.prob.candVars[name] {
		sel.committed = append(sel.committed, bf.Not(bf.Var(v)))
	}
	return nil, false
}

func dependNames(rec *domain.Record) []string {
	specs, err := rec.DependSpecs()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(specs))
	for _, dep := range specs {
		names = append(names, dep.Name)
	}
	return names
}
