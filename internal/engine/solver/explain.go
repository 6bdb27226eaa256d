package solver

import (
	"github.com/crillab/gophersat/bf"
	"github.com/marimeireles/mamba/internal/core/domain"
)

// explain shrinks an unsatisfiable request to a minimal incompatible subset
// of the user's specs. Deletion-based: drop one job at a time and keep the
// reduction whenever the remainder is still unsatisfiable. The result names
// only requested specs, never internal dependency clauses.
func (s *Solver) explain(jobs []domain.Job) error {
	core := append([]domain.Job(nil), jobs...)
	for i := 0; i < len(core); {
		trial := make([]domain.Job, 0, len(core)-1)
		trial = append(trial, core[:i]...)
		trial = append(trial, core[i+1:]...)
		if s.unsatisfiable(trial) {
			core = trial
			continue
		}
		i++
	}

	specs := make([]string, 0, len(core))
	for _, j := range core {
		specs = append(specs, j.Spec.String())
	}
	return &domain.Conflict{
		Specs:  specs,
		Reason: "the requested packages cannot coexist",
	}
}

func (s *Solver) unsatisfiable(jobs []domain.Job) bool {
	prob, err := s.encode(jobs)
	if err != nil {
		// A job with zero candidates is unsatisfiable on its own.
		return true
	}
	return bf.Solve(and(prob.clauses)) == nil
}
