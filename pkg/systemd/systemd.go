// Package systemd reports service state to systemd via sd_notify.
//
// All calls are no-ops when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

func Status(msg string) (bool, error) { return daemon.SdNotify(false, "STATUS="+msg) }

// Watchdog pings the systemd watchdog at half the configured interval until ctx is done.
// It returns immediately when the watchdog is not enabled for this unit.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
