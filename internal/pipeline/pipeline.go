package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rana718/crashetl/internal/config"
	"github.com/Rana718/crashetl/internal/database"
	"github.com/Rana718/crashetl/internal/errors"
	"github.com/Rana718/crashetl/internal/export"
	"github.com/Rana718/crashetl/internal/load"
	"github.com/Rana718/crashetl/internal/snapshot"
	"github.com/Rana718/crashetl/internal/source"
	"github.com/Rana718/crashetl/internal/transform"
	"github.com/Rana718/crashetl/internal/types"
)

type Fetcher interface {
	Fetch(ctx context.Context, req source.Request) (*source.Result, error)
}

// Pipeline drives one run through fetch, load, transform and export. A
// Pipeline runs at most once; every failure is final.
type Pipeline struct {
	cfg          *config.Config
	db           database.DatabaseAdapter
	fetcher      Fetcher
	loader       *load.Loader
	exporter     *export.Exporter
	reporter     *Reporter
	onTransition func(from, to State)

	mu    sync.Mutex
	state State
}

type Option func(*Pipeline)

func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

func WithReporter(r *Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// OnTransition registers a hook called after every state change.
func OnTransition(fn func(from, to State)) Option {
	return func(p *Pipeline) { p.onTransition = fn }
}

func New(cfg *config.Config, db database.DatabaseAdapter, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		db:       db,
		loader:   load.New(db),
		exporter: export.New(db),
		reporter: Discard(),
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = source.NewFromConfig(cfg)
	}
	return p
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) transition(to State) error {
	p.mu.Lock()
	from := p.state
	if !CanTransition(from, to) {
		p.mu.Unlock()
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}
	p.state = to
	p.mu.Unlock()

	if to != StateFailed {
		p.reporter.Stage(to)
	}
	if p.onTransition != nil {
		p.onTransition(from, to)
	}
	return nil
}

// advance moves to the next stage unless the run was cancelled.
func (p *Pipeline) advance(ctx context.Context, to State) error {
	if err := ctx.Err(); err != nil {
		return &errors.StageError{Stage: p.State().String(), Err: err}
	}
	return p.transition(to)
}

func (p *Pipeline) fail(err error) error {
	if !p.State().Terminal() {
		p.transition(StateFailed)
	}
	p.reporter.Error("%v", err)
	return err
}

// Run executes every stage in order and returns the run report once the
// summary has been exported.
func (p *Pipeline) Run(ctx context.Context) (*types.RunReport, error) {
	started := time.Now()
	report := &types.RunReport{RunID: snapshot.NewRunID(), StartedAt: started.UTC()}

	if err := p.advance(ctx, StateFetching); err != nil {
		return nil, p.fail(err)
	}
	fetched, err := p.Fetch(ctx, report.RunID)
	if err != nil {
		return nil, p.fail(err)
	}
	report.Window = fetched.Window
	report.Entities = fetched.Counts
	report.Orphans = fetched.Reconciliation.Orphans

	if err := p.advance(ctx, StateLoading); err != nil {
		return nil, p.fail(err)
	}
	summary, err := p.Load(ctx, fetched.Manifest)
	if err != nil {
		return nil, p.fail(err)
	}
	report.Summary = summary

	if err := p.advance(ctx, StateTransforming); err != nil {
		return nil, p.fail(err)
	}
	if err := p.Transform(ctx); err != nil {
		return nil, p.fail(err)
	}

	if err := p.advance(ctx, StateExporting); err != nil {
		return nil, p.fail(err)
	}
	if _, err := p.Export(ctx); err != nil {
		return nil, p.fail(err)
	}
	report.ExportPath = p.cfg.Export.Path

	if err := p.transition(StateDone); err != nil {
		return nil, p.fail(err)
	}
	report.Duration = time.Since(started)
	p.reporter.Success("Run %s finished in %s", report.RunID, report.Duration.Round(time.Millisecond))
	return report, nil
}

type FetchResult struct {
	Manifest       *snapshot.Manifest
	Window         types.Window
	Counts         []types.EntityCounts
	Tables         map[string]*types.Table
	Reconciliation Reconciliation
}

func (p *Pipeline) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if !p.cfg.Pipeline.Parallel {
		g.SetLimit(1)
	}
	return g, gctx
}

// Fetch downloads all entities for the configured window, writes their
// snapshots and the manifest, then reconciles the entities.
func (p *Pipeline) Fetch(ctx context.Context, runID string) (*FetchResult, error) {
	stage := StateFetching.String()

	window, err := p.cfg.GetWindow()
	if err != nil {
		return nil, &errors.StageError{Stage: stage, Err: err}
	}
	entities, err := p.cfg.GetEntities()
	if err != nil {
		return nil, &errors.StageError{Stage: stage, Err: err}
	}
	if err := p.cfg.EnsureDirectories(); err != nil {
		return nil, &errors.StageError{Stage: stage, Err: errors.WrapError(err, errors.ErrSnapshot, "failed to prepare directories")}
	}

	p.reporter.Info("Window %s", window)

	results := make([]*source.Result, len(types.EntityOrder))
	g, gctx := p.group(ctx)
	for i, name := range types.EntityOrder {
		entity := entities[name]
		g.Go(func() error {
			p.reporter.Info("🔄 Fetching %s from %s (cap %d)", name, entity.ResourceID, entity.RowCap)
			res, err := p.fetcher.Fetch(gctx, source.Request{Entity: entity, Window: window, RowCap: entity.RowCap})
			if err != nil {
				return &errors.StageError{Stage: stage, Entity: name, Err: err}
			}
			if err := snapshot.Write(p.cfg.SnapshotPath(name), res.Table); err != nil {
				return &errors.StageError{Stage: stage, Entity: name, Err: err}
			}
			results[i] = res
			p.reporter.Success("%s: %d rows in %d pages -> %s", name, res.Table.Len(), res.Pages, p.cfg.SnapshotPath(name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &FetchResult{
		Manifest: snapshot.NewManifest(runID, window),
		Window:   window,
		Tables:   make(map[string]*types.Table, len(results)),
	}
	for i, name := range types.EntityOrder {
		res := results[i]
		entity := entities[name]
		counts := types.EntityCounts{
			Entity:    name,
			Table:     entity.Table,
			Rows:      res.Table.Len(),
			Pages:     res.Pages,
			Discarded: res.Discarded,
			Truncated: res.Truncated,
		}
		if err := out.Manifest.Add(entity, p.cfg.SnapshotPath(name), counts, p.cfg.SnapshotDir); err != nil {
			return nil, &errors.StageError{Stage: stage, Entity: name, Err: err}
		}
		if res.Discarded > 0 {
			p.reporter.Warn("%s: discarded %d rows outside the window", name, res.Discarded)
		}
		out.Counts = append(out.Counts, counts)
		out.Tables[name] = res.Table
	}
	if err := snapshot.WriteManifest(p.cfg.ManifestPath(), out.Manifest); err != nil {
		return nil, &errors.StageError{Stage: stage, Err: err}
	}

	out.Reconciliation = Reconcile(entities, out.Tables, out.Counts)
	if !out.Reconciliation.Clean() {
		if p.cfg.Pipeline.Reconcile == config.ReconcileStrict {
			return nil, &errors.StageError{Stage: stage, Err: errors.WrapError(nil, errors.ErrReconcile, out.Reconciliation.String())}
		}
		p.reporter.Warn("%s", out.Reconciliation)
	}
	return out, nil
}

// LoadSnapshots loads the snapshots listed in the manifest on disk.
func (p *Pipeline) LoadSnapshots(ctx context.Context) (types.LoadSummary, error) {
	manifest, err := snapshot.ReadManifest(p.cfg.ManifestPath())
	if err != nil {
		return types.LoadSummary{}, &errors.StageError{Stage: StateLoading.String(), Err: err}
	}
	p.reporter.Info("Loading snapshots of run %s", manifest.RunID)
	return p.Load(ctx, manifest)
}

// Load reads every snapshot back from disk and replaces its raw table. It
// returns only after all loads have committed.
func (p *Pipeline) Load(ctx context.Context, manifest *snapshot.Manifest) (types.LoadSummary, error) {
	stage := StateLoading.String()

	entities, err := p.cfg.GetEntities()
	if err != nil {
		return types.LoadSummary{}, &errors.StageError{Stage: stage, Err: err}
	}

	entries := make(map[string]snapshot.ManifestEntry, len(types.EntityOrder))
	for _, name := range types.EntityOrder {
		entry, ok := manifest.Entry(name)
		if !ok {
			return types.LoadSummary{}, &errors.StageError{Stage: stage, Entity: name,
				Err: errors.WrapError(nil, errors.ErrSnapshot, "entity missing from manifest")}
		}
		entity := entities[name]
		entity.Table = entry.Table
		entities[name] = entity
		entries[name] = entry
	}

	dir := filepath.Dir(p.cfg.ManifestPath())
	g, gctx := p.group(ctx)
	for _, name := range types.EntityOrder {
		entry := entries[name]
		entity := entities[name]
		g.Go(func() error {
			if err := entry.VerifyChecksum(dir); err != nil {
				return &errors.StageError{Stage: stage, Entity: name, Err: err}
			}
			table, err := snapshot.Read(entry.Path(dir))
			if err != nil {
				return &errors.StageError{Stage: stage, Entity: name, Err: err}
			}
			n, err := p.loader.Load(gctx, load.ForEntity(entity, table))
			if err != nil {
				return &errors.StageError{Stage: stage, Entity: name, Err: err}
			}
			if n != entry.Rows {
				return &errors.StageError{Stage: stage, Entity: name,
					Err: errors.WrapError(nil, errors.ErrLoad, fmt.Sprintf("loaded %d rows, manifest lists %d", n, entry.Rows))}
			}
			p.reporter.Success("Loaded %d rows into %s", n, entity.Table)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.LoadSummary{}, err
	}

	summary, err := p.loader.Summary(ctx, entities)
	if err != nil {
		return types.LoadSummary{}, &errors.StageError{Stage: stage, Err: err}
	}
	p.reporter.Info("📊 %d collisions, %d vehicles, %d persons (%.2f vehicles and %.2f persons per crash)",
		summary.Collisions, summary.Vehicles, summary.Persons, summary.VehiclesPerCrash, summary.PersonsPerCrash)
	return summary, nil
}

// Script returns the configured transform script, or the built-in
// collision summary when none is set.
func (p *Pipeline) Script() (string, error) {
	if p.cfg.Transform.Script != "" {
		return transform.ReadScript(p.cfg.Transform.Script)
	}
	entities, err := p.cfg.GetEntities()
	if err != nil {
		return "", err
	}
	return transform.DefaultScript(transform.TablesFor(entities, p.cfg.Transform.SummaryTable))
}

func (p *Pipeline) Transform(ctx context.Context) error {
	stage := StateTransforming.String()

	script, err := p.Script()
	if err != nil {
		return &errors.StageError{Stage: stage, Err: err}
	}
	if err := transform.New(p.db, script).Run(ctx); err != nil {
		return &errors.StageError{Stage: stage, Err: err}
	}
	p.reporter.Success("Transform built %s", p.cfg.Transform.SummaryTable)
	return nil
}

func (p *Pipeline) Export(ctx context.Context) (int, error) {
	n, err := p.exporter.Export(ctx, p.cfg.Transform.SummaryTable, p.cfg.Export.Path, p.cfg.Export.Format)
	if err != nil {
		return 0, &errors.StageError{Stage: StateExporting.String(), Err: err}
	}
	p.reporter.Success("Exported %d rows of %s to %s", n, p.cfg.Transform.SummaryTable, p.cfg.Export.Path)
	return n, nil
}

// Status reports the raw and summary tables currently in the store.
func (p *Pipeline) Status(ctx context.Context) ([]types.TableStatus, error) {
	entities, err := p.cfg.GetEntities()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(types.EntityOrder)+1)
	for _, name := range types.EntityOrder {
		names = append(names, entities[name].Table)
	}
	names = append(names, p.cfg.Transform.SummaryTable)

	statuses := make([]types.TableStatus, 0, len(names))
	for _, name := range names {
		status := types.TableStatus{Name: name}
		exists, err := p.db.CheckTableExists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", name, err)
		}
		if exists {
			status.Exists = true
			if status.Rows, err = p.db.GetTableRowCount(ctx, name); err != nil {
				return nil, err
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
