// Package app implements the application layer: it assembles the
// per-invocation components out of the run options and drives the
// solve/plan/execute flow behind each CLI command.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marimeireles/mamba/internal/adapters/fetch"
	"github.com/marimeireles/mamba/internal/adapters/pkgcache"
	"github.com/marimeireles/mamba/internal/adapters/prefix"
	"github.com/marimeireles/mamba/internal/adapters/repodata"
	progrocktracer "github.com/marimeireles/mamba/internal/adapters/telemetry/progrock"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/core/ports"
	"github.com/marimeireles/mamba/internal/engine/pool"
	"github.com/marimeireles/mamba/internal/engine/solver"
	"github.com/marimeireles/mamba/internal/engine/transaction"
	"github.com/marimeireles/mamba/internal/ui/progress"
	"github.com/marimeireles/mamba/internal/ui/report"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// App holds the invocation-independent collaborators. Everything tied to a
// single command run (downloader, index, caches, prefix store, pool) is
// built inside the flow from its Options, so concurrent invocations with
// different options never share mutable state.
type App struct {
	configLoader ports.ConfigLoader
	confirmer    ports.Confirmer
	logger       ports.Logger
	tracer       ports.Tracer

	// out overrides the report destination, used by tests.
	out io.Writer
}

// New creates a new App instance.
func New(loader ports.ConfigLoader, confirmer ports.Confirmer, log ports.Logger, tracer ports.Tracer) *App {
	return &App{
		configLoader: loader,
		confirmer:    confirmer,
		logger:       log,
		tracer:       tracer,
	}
}

// Install adds the requested packages to an existing prefix.
func (a *App) Install(ctx context.Context, opts domain.Options, specs []string) error {
	opts, err := a.prepare(opts, true, true)
	if err != nil {
		return err
	}
	jobs, err := installJobs(specs, opts.AllowDowngrade)
	if err != nil {
		return err
	}
	return a.run(ctx, opts, jobs, false)
}

// Create materializes a fresh prefix holding the requested packages. The
// target must not already be an environment.
func (a *App) Create(ctx context.Context, opts domain.Options, specs []string) error {
	opts, err := a.prepare(opts, false, true)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(opts.TargetPrefix, "conda-meta")); err == nil {
		return zerr.With(zerr.Wrap(domain.ErrPrefixExists, ""), "prefix", opts.TargetPrefix)
	}
	jobs, err := installJobs(specs, opts.AllowDowngrade)
	if err != nil {
		return err
	}
	return a.run(ctx, opts, jobs, true)
}

// Remove drops the requested packages from the prefix, together with any
// installed package that can no longer have its dependencies satisfied.
func (a *App) Remove(ctx context.Context, opts domain.Options, specs []string) error {
	opts, err := a.prepare(opts, true, false)
	if err != nil {
		return err
	}
	jobs, err := removeJobs(specs)
	if err != nil {
		return err
	}
	return a.run(ctx, opts, jobs, false)
}

// List prints the installed snapshot of the prefix.
func (a *App) List(_ context.Context, opts domain.Options) error {
	opts, err := a.prepare(opts, true, false)
	if err != nil {
		return err
	}
	store := prefix.NewStore(opts.TargetPrefix)
	records, err := store.Load()
	if err != nil {
		return err
	}
	return a.printer(opts).Environment(store.Prefix(), records)
}

// prepare folds the rc file into the options and validates them.
func (a *App) prepare(opts domain.Options, requireTarget, requireChannels bool) (domain.Options, error) {
	opts, err := a.configLoader.Load(opts.RCFile, opts)
	if err != nil {
		return opts, err
	}
	if err := opts.Validate(requireTarget); err != nil {
		return opts, err
	}
	if requireChannels && len(opts.Channels) == 0 && !opts.Offline {
		return opts, zerr.With(zerr.Wrap(domain.ErrConfig, ""), "reason", "no channels configured")
	}
	if lv, ok := a.logger.(interface{ SetVerbosity(int) }); ok {
		lv.SetVerbosity(opts.Verbosity)
	}
	return opts, nil
}

// run is the shared solve/plan/execute flow.
func (a *App) run(ctx context.Context, opts domain.Options, jobs []domain.Job, createPrefix bool) error {
	store := prefix.NewStore(opts.TargetPrefix)
	installed, err := store.Load()
	if err != nil {
		return err
	}

	downloader, err := fetch.New(opts, a.tracer, a.logger)
	if err != nil {
		return err
	}

	p, err := a.buildPool(ctx, opts, jobs, installed, downloader)
	if err != nil {
		return err
	}

	resolved, err := solver.New(p, a.logger).Solve(jobs)
	if err != nil {
		return err
	}

	tx := transaction.Plan(installed, resolved)

	printer := a.printer(opts)
	if err := printer.Transaction(store.Prefix(), tx.Steps()); err != nil {
		return err
	}
	if tx.Empty() || opts.DryRun {
		return nil
	}

	if !opts.AlwaysYes {
		ok, err := a.confirmer.Confirm("Confirm changes:")
		if err != nil {
			return err
		}
		if !ok {
			a.logger.Info("transaction canceled")
			return nil
		}
	}
	if err := tx.Confirm(); err != nil {
		return err
	}

	if createPrefix {
		if err := os.MkdirAll(opts.TargetPrefix, 0o755); err != nil {
			return zerr.Wrap(err, "failed to create prefix")
		}
	}

	if err := a.execute(ctx, opts, tx, store); err != nil {
		return err
	}
	printer.Done()
	return nil
}

// execute runs the confirmed transaction. The progress view starts only
// here, after the confirmation prompt has released stdin; downloads and
// steps of the execution phase all report through the same tracer.
func (a *App) execute(ctx context.Context, opts domain.Options, tx *transaction.Transaction, store ports.PrefixStore) error {
	tracer, stopProgress := a.startProgress(opts)
	defer stopProgress()

	downloader, err := fetch.New(opts, tracer, a.logger)
	if err != nil {
		return err
	}
	cache, err := pkgcache.NewCache(opts.PkgsDir(), true, downloader, a.logger)
	if err != nil {
		return err
	}

	tracer.EmitPlan(ctx, stepNames(tx.Steps()))
	return tx.Execute(ctx, transaction.Deps{
		Cache:   pkgcache.NewMultiCache(cache),
		Store:   store,
		Tracer:  tracer,
		Logger:  a.logger,
		Workers: opts.Workers,
	})
}

// startProgress returns the tracer for the execution phase and a shutdown
// function. Interactive terminals get a Bubble Tea view fed by a progrock
// recorder; quiet, JSON and verbose runs keep the ambient tracer.
func (a *App) startProgress(opts domain.Options) (ports.Tracer, func()) {
	if opts.JSON || opts.Quiet || opts.Verbosity > 0 || !stderrIsTerminal() {
		return a.tracer, func() {}
	}

	feed := progress.NewFeed()
	rec := progrocktracer.NewRecorder(feed)
	program := tea.NewProgram(progress.NewModel(feed), tea.WithOutput(os.Stderr))

	done := make(chan struct{})
	go func() {
		_, _ = program.Run()
		close(done)
	}()
	return rec, func() {
		_ = rec.Close()
		<-done
	}
}

func stderrIsTerminal() bool {
	fi, err := os.Stderr.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// buildPool assembles the solver input: the installed snapshot plus, for
// flows that consult channels, one repo per channel subdir. Earlier
// channels win; within a channel the platform subdir beats noarch.
func (a *App) buildPool(ctx context.Context, opts domain.Options, jobs []domain.Job, installed []*domain.Record, dl ports.Downloader) (*pool.Pool, error) {
	p := pool.New()
	p.AddRepo(pool.NewInstalledRepo(installed))

	if !needsChannels(jobs) {
		return p, nil
	}

	index, err := repodata.NewIndex(opts.RepodataCacheDir(), opts.Offline, dl, a.logger)
	if err != nil {
		return nil, err
	}

	// One load per channel subdir, fanned out over the worker pool. The
	// slots keep the channel order, so repo priorities stay deterministic
	// no matter which load finishes first.
	type repoSlot struct {
		channel     domain.Channel
		rank        int
		subPriority int
		records     []*domain.Record
	}
	var slots []*repoSlot
	for rank, raw := range opts.Channels {
		channel, err := domain.ParseChannel(raw, opts.Platform)
		if err != nil {
			return nil, err
		}
		for _, sd := range []struct {
			platform    string
			subPriority int
		}{
			{opts.Platform, 1},
			{"noarch", 0},
		} {
			ch := channel
			ch.Platform = sd.platform
			slots = append(slots, &repoSlot{channel: ch, rank: rank, subPriority: sd.subPriority})
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, slot := range slots {
		g.Go(func() error {
			records, err := index.Load(gctx, slot.channel)
			if err != nil {
				return zerr.With(zerr.Wrap(err, ""), "channel", slot.channel.ID())
			}
			slot.records = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, slot := range slots {
		p.AddRepo(pool.NewRepo(slot.channel.ID(), slot.rank, slot.subPriority, slot.records))
	}
	return p, nil
}

// needsChannels reports whether any job can pull new records into the
// prefix. Pure removals solve against the installed snapshot alone.
func needsChannels(jobs []domain.Job) bool {
	for _, j := range jobs {
		if j.Kind == domain.JobInstall {
			return true
		}
	}
	return false
}

// SetOutput redirects report output away from stdout. Used for testing.
func (a *App) SetOutput(w io.Writer) { a.out = w }

func (a *App) printer(opts domain.Options) *report.Printer {
	if a.out != nil {
		return report.New(a.out, opts)
	}
	return report.New(os.Stdout, opts)
}

func installJobs(specs []string, allowDowngrade bool) ([]domain.Job, error) {
	if len(specs) == 0 {
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidSpec, ""), "reason", "no package specs given")
	}
	return domain.InstallJobs(specs, allowDowngrade)
}

func removeJobs(specs []string) ([]domain.Job, error) {
	if len(specs) == 0 {
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidSpec, ""), "reason", "no package specs given")
	}
	return domain.RemoveJobs(specs)
}

func stepNames(steps []transaction.Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Kind.String()+" "+s.Record.Identity())
	}
	return names
}
