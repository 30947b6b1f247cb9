// Package app wires the stores, transport adapter, command router and
// dispatch coordinator into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"signalbot/internal/adapters/telegram"
	"signalbot/internal/config"
	"signalbot/internal/dispatch"
	"signalbot/internal/router"
	"signalbot/internal/store"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

const updatesBuffer = 64

type App struct {
	cfgPath string
	cfg     *config.Config

	logSvc *logx.Service
	log    logx.Logger

	store       *store.Store
	adapter     *telegram.Adapter
	router      *router.Router
	coordinator *dispatch.Coordinator

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	return &App{cfgPath: cfgPath, cfg: cfg, logSvc: logSvc, log: log}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.log.Info("starting signalbot")

	st, err := store.Open(store.Config{
		Path:        a.cfg.Database.Path,
		BusyTimeout: a.cfg.Database.BusyTimeoutDuration(),
	}, a.log.With(logx.String("component", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	adapter, err := telegram.New(telegram.Config{
		Token:       a.cfg.Telegram.Token,
		PollTimeout: a.cfg.Telegram.PollTimeoutDuration(),
	}, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.router = router.New(st, adapter, a.log.With(logx.String("component", "router")))
	a.coordinator = dispatch.New(dispatchConfig(a.cfg.Dispatch), st, st, adapter,
		a.log.With(logx.String("component", "dispatch")))

	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	updates := make(chan transport.Update, updatesBuffer)
	if err := adapter.Start(runCtx, updates); err != nil {
		cancel()
		_ = st.Close()
		return fmt.Errorf("start adapter: %w", err)
	}

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		a.router.Run(runCtx, updates)
	}()

	if err := a.coordinator.Start(runCtx); err != nil {
		cancel()
		_ = adapter.Stop(context.Background())
		_ = st.Close()
		return fmt.Errorf("start dispatcher: %w", err)
	}

	// Config hot reload: logging and dispatch fan-out settings apply live;
	// token/database/schedule changes need a restart.
	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		err := config.Watch(runCtx, a.cfgPath, a.log.With(logx.String("component", "config")), a.applyConfig)
		if err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	// Publish the command menu; best-effort.
	if err := adapter.UpdateMenuCommands(runCtx, a.router.BotCommands()); err != nil {
		a.log.Warn("menu update failed", logx.Err(err))
	}

	// Under systemd (Type=notify) this flips the unit to active.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}

	a.log.Info("signalbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping signalbot")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	if a.runCancel != nil {
		a.runCancel()
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.coordinator != nil {
		_ = a.coordinator.Stop(stopCtx)
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(stopCtx)
	}
	a.runWG.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}

	a.log.Info("signalbot stopped")
	return a.logSvc.Close()
}

// Store exposes the persistence handle (the signal ingestion path for the
// analysis engine, and for operational tooling).
func (a *App) Store() *store.Store { return a.store }

func (a *App) applyConfig(cfg *config.Config) {
	a.cfg = cfg
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if a.coordinator != nil {
		a.coordinator.Apply(dispatchConfig(cfg.Dispatch))
	}
}

func dispatchConfig(c config.DispatchConfig) dispatch.Config {
	return dispatch.Config{
		Schedule:    c.Schedule,
		Workers:     c.Workers,
		RatePerSec:  c.RatePerSec,
		SendTimeout: c.SendTimeoutDuration(),
	}
}
