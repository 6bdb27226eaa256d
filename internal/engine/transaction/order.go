package transaction

import (
	"sort"

	"github.com/marimeireles/mamba/internal/core/domain"
)

// orderByDependencies sorts records so that every record appears after the
// records it depends on, considering only dependencies within the given
// set. Roots are visited in name order, so the result is deterministic.
// Dependency cycles are tolerated: the edge closing a cycle is ignored.
func orderByDependencies(recs []*domain.Record) []*domain.Record {
	byName := make(map[string]*domain.Record, len(recs))
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		byName[rec.Name] = rec
		names = append(names, rec.Name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(recs))
	ordered := make([]*domain.Record, 0, len(recs))

	var visit func(name string)
	visit = func(name string) {
		rec, ok := byName[name]
		if !ok || state[name] != unvisited {
			return
		}
		state[name] = visiting
		specs, err := rec.DependSpecs()
		if err == nil {
			for _, dep := range specs {
				if state[dep.Name] != visiting {
					visit(dep.Name)
				}
			}
		}
		state[name] = done
		ordered = append(ordered, rec)
	}

	for _, name := range names {
		visit(name)
	}
	return ordered
}
