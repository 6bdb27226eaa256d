// Package transaction turns the difference between an installed snapshot
// and a resolved record set into an ordered sequence of unlink and link
// steps, and executes them against a prefix.
package transaction

import (
	"context"
	"sync"

	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// StepKind discriminates the two operations a transaction performs.
type StepKind int

const (
	StepUnlink StepKind = iota
	StepLink
)

func (k StepKind) String() string {
	if k == StepUnlink {
		return "unlink"
	}
	return "link"
}

// Step is one unit of work against the prefix.
type Step struct {
	Kind   StepKind
	Record *domain.Record
}

// State tracks a transaction through its lifecycle. Transitions only move
// forward: Planned to Confirmed to Executing, ending in Completed or
// Aborted.
type State int

const (
	StatePlanned State = iota
	StateConfirmed
	StateExecuting
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StateConfirmed:
		return "confirmed"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Transaction is a planned set of prefix mutations. Plan it once, confirm
// it, execute it once.
type Transaction struct {
	mu    sync.Mutex
	state State
	steps []Step
}

// Deps carries the collaborators a transaction needs to execute.
type Deps struct {
	Cache   ports.PackageCache
	Store   ports.PrefixStore
	Tracer  ports.Tracer
	Logger  ports.Logger
	Workers int
}

// Plan diffs the installed snapshot against the resolved target set.
// Records present in both under the same identity are untouched. Unlinks
// run before links and are ordered so dependents leave the prefix before
// their dependencies; links are ordered the other way around, so every
// record's dependencies are linked before it.
func Plan(installed []*domain.Record, target map[string]*domain.Record) *Transaction {
	installedByName := make(map[string]*domain.Record, len(installed))
	for _, rec := range installed {
		installedByName[rec.Name] = rec
	}

	var unlinks, links []*domain.Record
	for _, rec := range installed {
		want, ok := target[rec.Name]
		if !ok || want.Identity() != rec.Identity() {
			unlinks = append(unlinks, rec)
		}
	}
	for _, rec := range target {
		have, ok := installedByName[rec.Name]
		if !ok || have.Identity() != rec.Identity() {
			links = append(links, rec)
		}
	}

	ordered := orderByDependencies(links)
	steps := make([]Step, 0, len(unlinks)+len(links))
	for _, rec := range reverse(orderByDependencies(unlinks)) {
		steps = append(steps, Step{Kind: StepUnlink, Record: rec})
	}
	for _, rec := range ordered {
		steps = append(steps, Step{Kind: StepLink, Record: rec})
	}

	return &Transaction{state: StatePlanned, steps: steps}
}

// Steps returns the planned steps in execution order.
func (t *Transaction) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

// Empty reports whether the prefix already matches the target.
func (t *Transaction) Empty() bool { return len(t.steps) == 0 }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Confirm moves the transaction from Planned to Confirmed.
func (t *Transaction) Confirm() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePlanned {
		return zerr.With(zerr.Wrap(domain.ErrExecution, ""), "state", t.state.String())
	}
	t.state = StateConfirmed
	return nil
}

// Execute runs the transaction: archives for every link step are fetched
// and extracted concurrently up front, then steps are applied to the prefix
// in plan order. The first failing step aborts the remainder; steps already
// applied stay applied.
func (t *Transaction) Execute(ctx context.Context, deps Deps) error {
	if err := t.begin(); err != nil {
		return err
	}
	if deps.Workers < 1 {
		deps.Workers = 1
	}

	if err := t.prefetch(ctx, deps); err != nil {
		t.finish(StateAborted)
		return err
	}

	for _, step := range t.steps {
		if err := t.apply(ctx, step, deps); err != nil {
			t.finish(StateAborted)
			return zerr.With(zerr.With(zerr.Wrap(err, "transaction aborted"),
				"step", step.Kind.String()),
				"package", step.Record.Identity())
		}
	}

	t.finish(StateCompleted)
	return nil
}

func (t *Transaction) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConfirmed {
		return zerr.With(zerr.Wrap(domain.ErrExecution, ""), "state", t.state.String())
	}
	t.state = StateExecuting
	return nil
}

func (t *Transaction) finish(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// prefetch makes every link step's extracted payload available before any
// prefix mutation starts, so a missing or corrupt archive cannot abort a
// half-applied plan.
func (t *Transaction) prefetch(ctx context.Context, deps Deps) error {
	var linkCount int
	for _, step := range t.steps {
		if step.Kind == StepLink {
			linkCount++
		}
	}
	if linkCount == 0 {
		return nil
	}

	ctx, span := deps.Tracer.Start(ctx, "fetch packages", ports.WithTotal(int64(linkCount)))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deps.Workers)
	for _, step := range t.steps {
		if step.Kind != StepLink {
			continue
		}
		rec := step.Record
		g.Go(func() error {
			if _, err := deps.Cache.EnsureExtracted(gctx, rec); err != nil {
				span.RecordError(err)
				return zerr.With(zerr.Wrap(err, ""), "package", rec.Identity())
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *Transaction) apply(ctx context.Context, step Step, deps Deps) error {
	switch step.Kind {
	case StepUnlink:
		deps.Logger.Info("unlinking", "package", step.Record.Identity())
		return deps.Store.Unlink(step.Record)
	case StepLink:
		dir, err := deps.Cache.EnsureExtracted(ctx, step.Record)
		if err != nil {
			return err
		}
		deps.Logger.Info("linking", "package", step.Record.Identity())
		return deps.Store.Link(step.Record, dir)
	}
	return zerr.With(zerr.Wrap(domain.ErrExecution, ""), "kind", step.Kind.String())
}

func reverse(recs []*domain.Record) []*domain.Record {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs
}
