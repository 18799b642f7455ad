package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Daemon runs check cycles until its shutdown context is cancelled. A cycle
// already in progress is not interrupted by shutdown.
type Daemon struct {
	orch     *Orchestrator
	shutdown context.Context
	interval time.Duration
	poll     time.Duration
	logger   *zap.Logger
}

func NewDaemon(shutdown context.Context, orch *Orchestrator, interval time.Duration, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		orch:     orch,
		shutdown: shutdown,
		interval: interval,
		poll:     time.Second,
		logger:   logger,
	}
}

// Run loops until shutdown. Cycle failures are logged and do not stop the
// loop.
func (d *Daemon) Run() error {
	d.logger.Info("daemon start", zap.Duration("interval", d.interval))

	for {
		if d.shutdown.Err() != nil {
			break
		}

		cycleCtx := context.WithoutCancel(d.shutdown)
		if err := d.orch.RunCycle(cycleCtx, false); err != nil {
			d.logger.Error("check cycle failed", zap.Error(err))
		}

		if !d.wait() {
			break
		}
	}

	d.logger.Info("daemon stopped")
	return nil
}

// wait sleeps for the check interval, polling shutdown every d.poll. It
// reports false once shutdown is requested.
func (d *Daemon) wait() bool {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	deadline := time.Now().Add(d.interval)
	for time.Now().Before(deadline) {
		select {
		case <-d.shutdown.Done():
			return false
		case <-ticker.C:
		}
	}
	return d.shutdown.Err() == nil
}
