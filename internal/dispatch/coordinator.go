// Package dispatch polls for undispatched signals and fans each one out to
// the currently subscribed audience at least once.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"signalbot/internal/model"
	"signalbot/internal/render"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

// Coordinator drives dispatch cycles. Construct with New and inject the
// store handles; it holds no signal state of its own beyond the working set
// of the running cycle.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config

	signals     SignalSource
	subscribers AudienceSource
	adapter     transport.Adapter
	log         logx.Logger

	limiter *rate.Limiter

	// cycleBusy serializes cycles: two concurrent cycles could both observe
	// the same pending signal and double-dispatch before either marks it.
	cycleBusy atomic.Bool

	cronRunner
}

func New(cfg Config, signals SignalSource, subscribers AudienceSource, adapter transport.Adapter, log logx.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:         cfg,
		signals:     signals,
		subscribers: subscribers,
		adapter:     adapter,
		log:         log,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply updates fan-out settings at runtime. The poll schedule is fixed at
// Start; changing it requires a restart.
func (c *Coordinator) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	cfg.Schedule = c.cfg.Schedule
	c.cfg = cfg
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
}

// RunCycle performs one complete dispatch pass:
// fetch pending -> resolve audience -> attempt delivery -> commit state.
//
// A store failure before any delivery attempt aborts the cycle with no
// partial commits. Per-recipient delivery failures are isolated: they are
// logged and counted, and the signal is still marked dispatched once the
// whole audience snapshot has been attempted. If ctx is cancelled mid-cycle,
// unmarked signals stay pending and are retried in full next cycle.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleStats, error) {
	if !c.cycleBusy.CompareAndSwap(false, true) {
		return CycleStats{}, ErrCycleActive
	}
	defer c.cycleBusy.Store(false)

	var stats CycleStats

	pending, err := c.signals.ListPendingDispatch(ctx)
	if err != nil {
		return stats, err
	}
	if len(pending) == 0 {
		return stats, nil
	}

	subs, err := c.subscribers.ListActiveSubscribers(ctx)
	if err != nil {
		return stats, err
	}

	start := time.Now()
	c.log.Info("dispatch cycle started",
		logx.Int("pending", len(pending)), logx.Int("subscribers", len(subs)))

	for i := range pending {
		sig := &pending[i]
		audience := filterAudience(subs, sig.AssetClass)

		delivered, failed := c.fanOut(ctx, sig, audience)
		stats.Recipients += len(audience)
		stats.Delivered += delivered
		stats.Failed += failed

		// Shutdown mid-fan-out: leave the signal pending so the next cycle
		// retries the full audience.
		if err := ctx.Err(); err != nil {
			c.log.Warn("dispatch cycle interrupted",
				logx.Int64("signal", sig.ID), logx.Err(err))
			return stats, err
		}

		if err := c.signals.MarkDispatched(ctx, sig.ID); err != nil {
			return stats, err
		}
		stats.Signals++

		if failed > 0 {
			c.log.Warn("signal dispatched with failures",
				logx.Int64("signal", sig.ID),
				logx.String("symbol", sig.Symbol),
				logx.Int("audience", len(audience)),
				logx.Int("failed", failed))
		} else {
			c.log.Info("signal dispatched",
				logx.Int64("signal", sig.ID),
				logx.String("symbol", sig.Symbol),
				logx.Int("audience", len(audience)))
		}
	}

	c.log.Info("dispatch cycle finished",
		logx.Int("signals", stats.Signals),
		logx.Int("delivered", stats.Delivered),
		logx.Int("failed", stats.Failed),
		logx.Duration("took", time.Since(start)))
	return stats, nil
}

// fanOut attempts delivery of one signal to every resolved recipient.
// Attempts run concurrently up to cfg.Workers and are rate limited; one bad
// recipient cannot starve the rest.
func (c *Coordinator) fanOut(ctx context.Context, sig *model.Signal, audience []model.Subscriber) (delivered, failed int) {
	if len(audience) == 0 {
		return 0, 0
	}

	c.mu.Lock()
	workers := c.cfg.Workers
	sendTimeout := c.cfg.SendTimeout
	lim := c.limiter
	c.mu.Unlock()

	if workers > len(audience) {
		workers = len(audience)
	}

	text := render.Signal(sig)
	targets := make(chan model.Subscriber)
	var okCount, failCount atomic.Int64

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for sub := range targets {
				if err := c.sendOne(ctx, lim, sendTimeout, sub, text); err != nil {
					failCount.Add(1)
					c.log.Warn("signal delivery failed",
						logx.Int64("signal", sig.ID),
						logx.Int64("telegram_id", sub.TelegramID),
						logx.Err(err))
				} else {
					okCount.Add(1)
				}
			}
		}()
	}

feed:
	for _, sub := range audience {
		select {
		case targets <- sub:
		case <-ctx.Done():
			break feed
		}
	}
	close(targets)
	wg.Wait()

	return int(okCount.Load()), int(failCount.Load())
}

func (c *Coordinator) sendOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, sub model.Subscriber, text string) error {
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := c.adapter.SendText(sctx, transport.ChatTarget{ChatID: sub.TelegramID}, text,
		&transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func filterAudience(subs []model.Subscriber, class model.AssetClass) []model.Subscriber {
	out := make([]model.Subscriber, 0, len(subs))
	for _, s := range subs {
		if s.SubscriptionType.Matches(class) {
			out = append(out, s)
		}
	}
	return out
}
