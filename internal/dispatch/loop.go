package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"signalbot/pkg/logx"
)

// cronRunner owns the poll trigger. Embedded in Coordinator so Start/Stop
// live next to the cycle they drive.
type cronRunner struct {
	runMu     sync.Mutex
	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

// Start schedules recurring dispatch cycles per cfg.Schedule. Each trigger
// runs one cycle; a trigger that fires while a cycle is still running is
// skipped (cycles never overlap).
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.c != nil {
		return nil
	}

	c.mu.Lock()
	schedule := c.cfg.Schedule
	c.mu.Unlock()

	// SecondOptional allows both 5-field and 6-field (with seconds) specs;
	// Descriptor allows "@every 30s".
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cr := cron.New(cron.WithParser(parser))

	runCtx, cancel := context.WithCancel(ctx)
	_, err := cr.AddFunc(schedule, func() {
		if _, err := c.RunCycle(runCtx); err != nil {
			switch {
			case errors.Is(err, ErrCycleActive):
				c.log.Debug("dispatch trigger skipped; previous cycle still running")
			case errors.Is(err, context.Canceled):
				// shutting down
			default:
				// Store unavailability is fatal to this cycle only; the next
				// trigger retries from scratch.
				c.log.Error("dispatch cycle failed", logx.Err(err))
			}
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid dispatch schedule %q: %w", schedule, err)
	}

	c.c = cr
	c.runCtx = runCtx
	c.runCancel = cancel
	cr.Start()
	c.log.Info("dispatch loop started", logx.String("schedule", schedule))
	return nil
}

// Stop halts the trigger and waits for an in-flight cycle to finish, bounded
// by ctx.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.runMu.Lock()
	cr := c.c
	cancel := c.runCancel
	c.c = nil
	c.runCancel = nil
	c.runMu.Unlock()

	if cr == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	stopCtx := cr.Stop() // completes when running jobs finish
	select {
	case <-stopCtx.Done():
		c.log.Info("dispatch loop stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn("dispatch loop stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}
