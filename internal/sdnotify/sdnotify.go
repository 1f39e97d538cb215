// Package sdnotify reports service lifecycle to systemd for Type=notify units.
// Every call is a no-op when the process is not started by systemd (no
// NOTIFY_SOCKET), which includes Windows.
package sdnotify

import (
	"context"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// Notifier sends sd_notify messages and logs the outcome.
type Notifier struct {
	log zerolog.Logger
}

// New returns a Notifier logging to log.
func New(log zerolog.Logger) *Notifier {
	return &Notifier{log: log}
}

// Ready sends READY=1. It reports whether systemd received it.
func (n *Notifier) Ready() bool {
	return n.send(daemon.SdNotifyReady, "ready")
}

// Stopping sends STOPPING=1 at the start of shutdown.
func (n *Notifier) Stopping() bool {
	return n.send(daemon.SdNotifyStopping, "stopping")
}

func (n *Notifier) send(state, name string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn().Err(err).Str("state", name).Msg("systemd notification failed")
		return false
	}
	if sent {
		n.log.Debug().Str("state", name).Msg("systemd notified")
	}
	return sent
}

// HealthFunc reports whether the service should keep pinging the watchdog.
type HealthFunc func() bool

// StartWatchdog pings WATCHDOG=1 at half the unit's WatchdogSec while healthy
// returns true, until ctx is done. It returns false when no watchdog is
// configured.
func (n *Notifier) StartWatchdog(ctx context.Context, healthy HealthFunc) bool {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Debug().Err(err).Msg("watchdog not enabled")
		return false
	}
	if interval == 0 {
		return false
	}

	every := interval / 2
	n.log.Info().Dur("watchdog_interval", interval).Dur("ping_interval", every).Msg("starting systemd watchdog")
	go n.watchdogLoop(ctx, every, healthy)
	return true
}

func (n *Notifier) watchdogLoop(ctx context.Context, every time.Duration, healthy HealthFunc) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthy() {
				n.log.Warn().Msg("health check failed, skipping watchdog ping")
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				n.log.Warn().Err(err).Msg("watchdog ping failed")
			}
		}
	}
}

// UnderSystemd reports whether a notify socket was handed to the process.
func UnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
