package syncer

import (
	"context"
	"time"

	"github.com/tillsync/tillsync/internal/connectivity"
	"github.com/tillsync/tillsync/internal/events"
)

// Runner funnels every sync trigger into the engine: the offline-to-online
// transition, a periodic backstop timer, and manual requests. The engine's
// own serialization makes overlapping triggers harmless.
type Runner struct {
	engine   *Engine
	monitor  *connectivity.Monitor
	interval time.Duration
	manual   chan struct{}
	logger   *events.Logger
}

// NewRunner creates a trigger runner.
func NewRunner(engine *Engine, monitor *connectivity.Monitor, interval time.Duration, logger *events.Logger) *Runner {
	return &Runner{
		engine:   engine,
		monitor:  monitor,
		interval: interval,
		manual:   make(chan struct{}, 1),
		logger:   logger.WithField("component", "sync_runner"),
	}
}

// RequestSync queues a manual sync-now. Non-blocking; requests collapse.
func (r *Runner) RequestSync() {
	select {
	case r.manual <- struct{}{}:
	default:
	}
}

// Run blocks until the context is cancelled, dispatching sync passes for
// every trigger. Timer and manual triggers are ignored while offline;
// the online transition always fires one.
func (r *Runner) Run(ctx context.Context) {
	transitions := r.monitor.Transitions()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-transitions:
			if !t.Online {
				continue
			}
			r.logger.Info("Connectivity restored, draining outbox")
			r.engine.SyncAll(ctx)

		case <-ticker.C:
			if !r.monitor.IsOnline() {
				continue
			}
			r.engine.SyncAll(ctx)

		case <-r.manual:
			if !r.monitor.IsOnline() {
				r.logger.Warn("Manual sync requested while offline, ignoring")
				continue
			}
			r.logger.Info("Manual sync requested")
			r.engine.SyncAll(ctx)
		}
	}
}
