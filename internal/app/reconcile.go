package app

import (
	"context"

	"mudbooker/internal/eventbus"
	"mudbooker/internal/settings"
	logx "mudbooker/pkg/logx"
)

// Reconcile reloads the stored settings and restarts the scheduler iff the
// interval changed. Naming and keep-for changes are picked up by the next
// cycle without touching the timer.
func (a *App) Reconcile(ctx context.Context) (settings.Reload, error) {
	a.reconcileMu.Lock()
	defer a.reconcileMu.Unlock()

	r, err := a.state.Reload(ctx, a.store)
	if err != nil {
		a.log.Warn("settings reload failed; keeping current settings", logx.Err(err))
		return r, err
	}
	if r.Unavailable || r.Before == r.After {
		return r, nil
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.SettingsReloaded, Data: r})
	a.log.Info("settings reloaded",
		logx.Strings("applied", r.Applied),
		logx.Duration("interval", r.After.Interval),
		logx.Duration("keep_for", r.After.KeepFor),
	)

	if r.IntervalChanged() && a.sched.Restart(ctx) {
		a.log.Info("interval changed; scheduler restarted",
			logx.Duration("from", r.Before.Interval),
			logx.Duration("to", r.After.Interval),
		)
	}
	return r, nil
}

// reconcileLoop runs Reconcile once per burst of storage change signals.
func (a *App) reconcileLoop(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			for drained := false; !drained; {
				select {
				case <-changes:
				default:
					drained = true
				}
			}
			_, _ = a.Reconcile(ctx)
		}
	}
}
