package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "mudbooker/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
	sdWatchdog = daemon.SdNotifyWatchdog
)

// systemdNotifier is the service manager side of sd_notify(3).
type systemdNotifier interface {
	Notify(state string) (bool, error)
	WatchdogInterval() time.Duration
}

type sdNotifier struct{}

func (sdNotifier) Notify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (sdNotifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

// notifySystemd is a no-op outside systemd (NOTIFY_SOCKET unset).
func (a *App) notifySystemd(state string) {
	sent, err := a.systemd.Notify(state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// startWatchdog pings at half the WatchdogSec interval while the scheduler
// is running.
func (a *App) startWatchdog() {
	every := a.systemd.WatchdogInterval()
	if every <= 0 {
		return
	}
	every /= 2
	a.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if a.sched.Running() {
					a.notifySystemd(sdWatchdog)
				}
			}
		}
	})
}
