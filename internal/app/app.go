package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"mudbooker/internal/config"
	"mudbooker/internal/eventbus"
	"mudbooker/internal/items"
	"mudbooker/internal/metrics"
	"mudbooker/internal/naming"
	"mudbooker/internal/notifier"
	"mudbooker/internal/retention"
	"mudbooker/internal/runner"
	rtsup "mudbooker/internal/runtime/supervisor"
	"mudbooker/internal/scheduler"
	"mudbooker/internal/settings"
	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	state  *settings.State
	notif  *notifier.Service
	runner *runner.Runner
	sched  *scheduler.Service

	metrics *metrics.Collector
	mserver *metrics.Server

	systemd systemdNotifier

	// reconcileMu serializes settings reloads so a restart decision always
	// compares against the interval the scheduler was last armed with.
	reconcileMu sync.Mutex
	closeOnce   sync.Once
}

// Options overrides collaborators, mostly for tests. Zero values build the
// real ones from config.
type Options struct {
	Items   items.Source
	Sink    notifier.Sink
	Naming  naming.Policy
	Now     func() time.Time
	Log     logx.Logger
	Systemd systemdNotifier
}

// New loads and validates cfgPath and builds the app. The config file is
// watched once Start runs.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfg, cfgm, Options{})
}

// NewFromConfig builds the app from an in-memory config. There is no file to
// watch.
func NewFromConfig(cfg *config.Config, opts Options) (*App, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return build(cfg, nil, opts)
}

func build(cfg *config.Config, cfgm *config.ConfigManager, opts Options) (*App, error) {
	var (
		logSvc *logx.Service
		log    = opts.Log
	)
	if log.IsZero() {
		logSvc, log = logx.New(mapLoggingConfig(cfg))
	}
	appLog := log.With(logx.String("comp", "app"))
	if cfgm != nil {
		cfgm.SetLogger(log.With(logx.String("comp", "config")))
	}
	bus := eventbus.New()

	sc, persistent, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.Now = opts.Now
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if !persistent {
		appLog.Warn("storage is in-memory; snapshots and settings are lost on exit")
	}
	// Anything below that fails must not leak the open store.
	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()

	seed, err := mapSettingsDefaults(cfg)
	if err != nil {
		return nil, err
	}
	state := settings.New(seed, log.With(logx.String("comp", "settings")))

	src := opts.Items
	if src == nil {
		ic, err := mapItemsConfig(cfg)
		if err != nil {
			return nil, err
		}
		if src, err = items.Open(ic, log); err != nil {
			return nil, err
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink := opts.Sink
	if sink == nil {
		if sink, err = buildSink(cfg, log.With(logx.String("comp", "notify"))); err != nil {
			return nil, err
		}
	}
	notif := notifier.New(ncfg, sink, log, bus)

	run := runner.New(runner.Deps{
		Settings: state,
		Items:    src,
		Store:    store,
		Notifier: notif,
		Naming:   opts.Naming,
		Bus:      bus,
		Log:      log,
		Now:      opts.Now,
	})

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, state.Interval, func(ctx context.Context) error {
		_, err := run.Run(ctx)
		return err
	}, log, bus)

	mcfg, err := mapMetricsConfig(cfg)
	if err != nil {
		return nil, err
	}
	collector := metrics.NewCollector(cfg.Metrics.Runtime, log)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		state:   state,
		notif:   notif,
		runner:  run,
		sched:   sched,
		metrics: collector,
		systemd: opts.Systemd,
	}
	if a.systemd == nil {
		a.systemd = sdNotifier{}
	}
	a.mserver = metrics.NewServer(mcfg, collector.Registry(), a.health, log)
	ok = true
	return a, nil
}

func (a *App) Store() storage.Store          { return a.store }
func (a *App) Settings() *settings.State     { return a.state }
func (a *App) Runner() *runner.Runner        { return a.runner }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Metrics() *metrics.Collector   { return a.metrics }
func (a *App) MetricsAddr() string           { return a.mserver.Addr() }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the stored settings, starts the scheduler (which runs the first
// cycle immediately) and the background loops that keep the scheduler in
// step with settings changes.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sup.Go("metrics.consume", func(c context.Context) error { return a.metrics.Consume(c, a.bus) })
	a.mserver.Start(runCtx)
	a.notif.Start(runCtx)

	// Subscribe before the first reload so no change slips between the two.
	changes, unsub := a.store.Subscribe(4)
	if _, err := a.Reconcile(runCtx); err != nil {
		a.log.Warn("initial settings load failed; using defaults", logx.Err(err))
	}

	a.sched.Start(runCtx)

	a.sup.Go0("settings.reconcile", func(c context.Context) {
		defer unsub()
		a.reconcileLoop(c, changes)
	})
	a.sup.GoRestart("storage.watch", a.store.Watch, 500*time.Millisecond, 10*time.Second)

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.apply", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.configLoop(c, sub)
		})
		a.log.Info("watching config file", logx.String("path", a.cfgm.Path()))
		a.sup.GoRestart("config.watch", a.cfgm.Watch, 500*time.Millisecond, 10*time.Second)
	}

	a.startWatchdog()
	a.notifySystemd(sdReady)
	a.log.Info("app started",
		logx.Duration("interval", a.state.Interval()),
		logx.Duration("keep_for", a.state.KeepFor()),
		logx.String("container", a.state.ContainerName()),
	)
	return nil
}

// Trigger runs one cycle now and re-arms the timer from this moment. When the
// scheduler is not running the cycle runs inline.
func (a *App) Trigger(ctx context.Context) error {
	if a.sched.Restart(ctx) {
		return nil
	}
	_, err := a.RunOnce(ctx)
	return err
}

// RunOnce loads the stored settings and runs one cycle in the caller's
// goroutine, outside the scheduler.
func (a *App) RunOnce(ctx context.Context) (runner.Result, error) {
	if _, err := a.state.Reload(ctx, a.store); err != nil {
		a.log.Warn("settings load failed; using current values", logx.Err(err))
	}
	a.notif.Start(ctx)
	res, err := a.runner.Run(ctx)
	if a.sup == nil {
		// Not serving: drain the notification queue before the caller exits.
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	}
	return res, err
}

// Prune runs retention with the stored settings. dryRun only reports.
func (a *App) Prune(ctx context.Context, dryRun bool) ([]storage.Node, retention.Report, error) {
	if _, err := a.state.Reload(ctx, a.store); err != nil {
		a.log.Warn("settings load failed; using current values", logx.Err(err))
	}
	if dryRun {
		plan, err := a.runner.PlanPrune(ctx)
		return plan, retention.Report{}, err
	}
	rep, err := a.runner.Prune(ctx)
	return nil, rep, err
}

// Status is a point-in-time view for operators.
type Status struct {
	Settings    settings.Settings
	RunState    runner.RunState
	Scheduler   scheduler.Snapshot
	Destination string
	Snapshots   int
}

func (a *App) Status(ctx context.Context) (Status, error) {
	st := Status{Settings: a.state.Snapshot(), Scheduler: a.sched.Snapshot()}
	rs, err := runner.ReadRunState(ctx, a.store)
	if err != nil {
		return st, err
	}
	st.RunState = rs

	dest, err := a.store.FindByName(ctx, storage.RootID, st.Settings.ContainerName)
	if errors.Is(err, storage.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Destination = dest.ID
	kids, err := a.store.ListChildren(ctx, dest.ID)
	if err != nil {
		return st, err
	}
	for _, k := range kids {
		if k.IsFolder() {
			st.Snapshots++
		}
	}
	return st, nil
}

func (a *App) health(ctx context.Context) (map[string]any, error) {
	snap := a.sched.Snapshot()
	details := map[string]any{
		"scheduler_running": snap.Running,
		"interval":          snap.Interval.String(),
		"in_flight":         snap.InFlight,
		"runs":              snap.Runs,
		"failures":          snap.Failures,
	}
	if !snap.Next.IsZero() {
		details["next_run"] = snap.Next.UTC().Format(time.RFC3339)
	}
	if h := a.notif.History(); len(h) > 0 {
		details["last_notification"] = h[len(h)-1].At.UTC().Format(time.RFC3339)
	}
	if a.sup != nil {
		c := a.sup.Counters()
		details["goroutines"] = c.Active
		details["goroutine_panics"] = c.Panics
	}
	if !snap.Running {
		return details, errors.New("scheduler not running")
	}
	if _, err := a.store.Get(ctx, []string{settings.KeyLastRun}); err != nil {
		return details, fmt.Errorf("storage: %w", err)
	}
	return details, nil
}

// configLoop applies hot-reloadable sections of the process config.
func (a *App) configLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("changed", sections))
	}
	var oldTG, newTG *config.TelegramConfig
	if oldCfg != nil && oldCfg.Notifier != nil {
		oldTG = oldCfg.Notifier.Telegram
	}
	if newCfg.Notifier != nil {
		newTG = newCfg.Notifier.Telegram
	}
	if !reflect.DeepEqual(oldTG, newTG) {
		a.log.Warn("notifier.telegram changed; restart required for the sink to change")
	}

	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !prev && ncfg.Enabled:
			a.notif.Start(ctx)
			a.log.Info("notifier enabled via config")
		}
	}

	if mcfg, err := mapMetricsConfig(newCfg); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.mserver.Reconfigure(ctx, mcfg)
	}

	if d, err := mapDebug(newCfg.Debug); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else if a.state.Debug() != d && a.state.SetDebug(d) {
		// Leaving debug mode hands interval/keep-for back to storage.
		if _, err := a.Reconcile(ctx); err != nil {
			a.log.Warn("settings reload after debug change failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, each step bounded so one
// component can't stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping")
	a.notifySystemd(sdStopping)

	// Stop the scheduler before cancelling the run context so the in-flight
	// cycle can still notify.
	step := stepper(ctx, a.log)
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })

	a.sup.Cancel()
	step("metrics", time.Second, func(c context.Context) error { a.mserver.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	err := a.Close()
	a.log.Info("stopped")
	return err
}

// Close releases the store and log sinks. Stop calls it; one-shot commands
// that never Start call it directly.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.store.Close()
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
	return err
}

func stepper(ctx context.Context, log logx.Logger) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}
}
