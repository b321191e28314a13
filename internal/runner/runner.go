// Package runner performs one snapshot cycle: capture the open items, write
// them into a new named folder, record the run and prune expired folders.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mudbooker/internal/eventbus"
	"mudbooker/internal/items"
	"mudbooker/internal/naming"
	"mudbooker/internal/notifier"
	"mudbooker/internal/retention"
	"mudbooker/internal/settings"
	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

// NotificationTitle heads every cycle notification.
const NotificationTitle = "MudBooker"

// Store is what a cycle needs from storage.
type Store interface {
	storage.ContainerStore
	Set(ctx context.Context, kv map[string]any) error
}

// Deps are the runner's collaborators. Notifier may be nil.
type Deps struct {
	Settings *settings.State
	Items    items.Source
	Store    Store
	Notifier notifier.Notifier
	Naming   naming.Policy
	Bus      eventbus.Bus
	Log      logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// RunState is the last/next run bookkeeping, persisted in ms under the
// "last" and "next" settings keys.
type RunState struct {
	LastRun time.Time
	NextRun time.Time
}

// Result describes one completed cycle.
type Result struct {
	Name          string
	DestinationID string
	FolderID      string
	Items         int
	Created       int
	Failed        int
	RunState      RunState
	Pruned        retention.Report
	Took          time.Duration
}

type Runner struct {
	deps   Deps
	log    logx.Logger
	pruner *retention.Pruner

	mu    sync.Mutex
	state RunState
}

func New(d Deps) *Runner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log.With(logx.String("comp", "runner"))
	return &Runner{
		deps:   d,
		log:    log,
		pruner: retention.NewPruner(d.Store, d.Log),
	}
}

// State returns the run bookkeeping of the last completed cycle.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run executes one cycle. Per-item, persistence, notification and prune
// failures are logged and do not fail the cycle; failing to capture items or
// to create the snapshot folder does.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	res, err := r.run(ctx)
	if err != nil {
		r.log.Warn("snapshot cycle failed", logx.Err(err))
		r.deps.Bus.Publish(eventbus.Event{Type: eventbus.CycleFailed, Data: err.Error()})
		return res, err
	}
	r.deps.Bus.Publish(eventbus.Event{Type: eventbus.CycleCompleted, Data: res})
	return res, nil
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	start := time.Now()
	cfg := r.deps.Settings.Snapshot()
	now := r.deps.Now()

	list, err := r.deps.Items.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("capture items: %w", err)
	}

	dest, err := r.destination(ctx, cfg.ContainerName, true)
	if err != nil {
		return Result{}, err
	}

	name, err := r.deps.Naming.Name(now, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot name: %w", err)
	}
	folder, err := r.deps.Store.Create(ctx, dest.ID, name)
	if err != nil {
		return Result{}, fmt.Errorf("create snapshot %q: %w", name, err)
	}

	res := Result{Name: name, DestinationID: dest.ID, FolderID: folder.ID, Items: len(list)}
	for _, it := range list {
		if _, err := r.deps.Store.CreateChild(ctx, folder.ID, it.Title, it.URL); err != nil {
			res.Failed++
			r.log.Warn("bookmark create failed", logx.String("url", it.URL), logx.Err(err))
			continue
		}
		res.Created++
	}

	rs := RunState{LastRun: now, NextRun: now.Add(cfg.Interval)}
	r.mu.Lock()
	r.state = rs
	r.mu.Unlock()
	res.RunState = rs
	if err := r.deps.Store.Set(ctx, map[string]any{
		settings.KeyLastRun: rs.LastRun.UnixMilli(),
		settings.KeyNextRun: rs.NextRun.UnixMilli(),
	}); err != nil {
		r.log.Warn("run state not persisted", logx.Err(err))
	}

	r.notify(ctx, now, res.Created)

	rep, err := r.pruner.Prune(ctx, dest.ID, cfg.KeepFor, now)
	if err != nil {
		r.log.Warn("prune failed", logx.Err(err))
	}
	res.Pruned = rep
	res.Took = time.Since(start)

	r.log.Info("snapshot created",
		logx.String("name", name),
		logx.Int("items", res.Created),
		logx.Int("failed", res.Failed),
		logx.Int("pruned", len(rep.Deleted)),
		logx.Time("next_run", res.RunState.NextRun),
		logx.Duration("took", res.Took),
	)
	return res, nil
}

func (r *Runner) notify(ctx context.Context, now time.Time, n int) {
	if r.deps.Notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s - %d items were bookmarked", now.Format("15:04"), n)
	err := r.deps.Notifier.Notify(ctx, NotificationTitle, msg)
	switch {
	case err == nil:
	case errors.Is(err, notifier.ErrDisabled):
		r.log.Debug("notification skipped; notifier disabled")
	default:
		r.log.Warn("notification failed", logx.Err(err))
	}
}

// destination finds the first folder named name under the root, creating it
// when create is set.
func (r *Runner) destination(ctx context.Context, name string, create bool) (storage.Node, error) {
	dest, err := r.deps.Store.FindByName(ctx, storage.RootID, name)
	if err == nil {
		return dest, nil
	}
	if !errors.Is(err, storage.ErrNotFound) || !create {
		return storage.Node{}, fmt.Errorf("find destination %q: %w", name, err)
	}
	dest, err = r.deps.Store.Create(ctx, storage.RootID, name)
	if err != nil {
		return storage.Node{}, fmt.Errorf("create destination %q: %w", name, err)
	}
	r.log.Info("destination folder created", logx.String("name", name), logx.String("id", dest.ID))
	return dest, nil
}

// PlanPrune reports which snapshot folders the next prune would delete. A
// missing destination means nothing to prune.
func (r *Runner) PlanPrune(ctx context.Context) ([]storage.Node, error) {
	cfg := r.deps.Settings.Snapshot()
	dest, err := r.destination(ctx, cfg.ContainerName, false)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.pruner.Plan(ctx, dest.ID, cfg.KeepFor, r.deps.Now())
}

// Prune runs retention alone, outside a cycle.
func (r *Runner) Prune(ctx context.Context) (retention.Report, error) {
	cfg := r.deps.Settings.Snapshot()
	dest, err := r.destination(ctx, cfg.ContainerName, false)
	if errors.Is(err, storage.ErrNotFound) {
		return retention.Report{}, nil
	}
	if err != nil {
		return retention.Report{}, err
	}
	return r.pruner.Prune(ctx, dest.ID, cfg.KeepFor, r.deps.Now())
}

// ReadRunState loads the persisted run bookkeeping. Missing keys yield zero
// times.
func ReadRunState(ctx context.Context, src settings.Source) (RunState, error) {
	kv, err := src.Get(ctx, []string{settings.KeyLastRun, settings.KeyNextRun})
	if err != nil {
		return RunState{}, err
	}
	return RunState{
		LastRun: msTime(kv[settings.KeyLastRun]),
		NextRun: msTime(kv[settings.KeyNextRun]),
	}, nil
}

func msTime(v any) time.Time {
	var ms int64
	switch x := v.(type) {
	case float64:
		ms = int64(x)
	case int64:
		ms = x
	case int:
		ms = int64(x)
	default:
		return time.Time{}
	}
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
