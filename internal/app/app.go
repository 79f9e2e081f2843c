// Package app assembles the bot: configuration, storage, transport,
// delivery and the lifecycle engine, with live reload of the parts that
// support it.
package app

import (
	"context"
	"fmt"
	"time"

	"concierge/internal/config"
	"concierge/internal/lifecycle"
	"concierge/internal/notify"
	"concierge/internal/router"
	"concierge/internal/runtime/supervisor"
	"concierge/internal/store"
	"concierge/internal/transport"
	"concierge/internal/transport/telegram"
	"concierge/pkg/logx"
)

const updateBuffer = 256

// App owns every long-lived component and their shutdown order.
type App struct {
	cfgMgr  *config.Manager
	logSvc  *logx.Service
	log     logx.Logger
	st      store.Store
	adapter *telegram.Adapter
	sender  *notify.Service
	router  *router.Router
	engine  *lifecycle.Service

	sup     *supervisor.Supervisor
	updates chan transport.Update
}

// New loads and validates the config file at path and builds the full
// component graph. Nothing is started yet.
func New(path string) (*App, error) {
	mgr := config.NewManager(path)
	cfg, err := mgr.Load()
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
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	poll, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	sender := notify.New(notifierConfig(cfg), adapter, log.With(logx.String("comp", "notify")))

	lcCfg, err := lifecycleConfig(cfg)
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}
	engine := lifecycle.New(lcCfg, st, sender, log.With(logx.String("comp", "lifecycle")))
	rt := router.New(router.Config{Location: lcCfg.Location}, st, sender, adapter,
		log.With(logx.String("comp", "router")))

	return &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		st:      st,
		adapter: adapter,
		sender:  sender,
		router:  rt,
		engine:  engine,
		updates: make(chan transport.Update, updateBuffer),
	}, nil
}

// Start brings everything up: transport polling, update routing, the
// lifecycle engine, the config watcher and the reload loop.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "app"))),
		supervisor.WithCancelOnError(true),
	)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	if err := a.engine.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start lifecycle: %w", err)
	}

	a.sup.Go0("router", func(c context.Context) {
		a.router.Run(c, a.updates)
	})
	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.apply", a.applyLoop)

	a.log.Info("app started")
	return nil
}

// Stop tears components down in reverse order of Start.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if a.engine != nil {
		if err := a.engine.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.adapter != nil {
		if err := a.adapter.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logSvc != nil {
		a.logSvc.Close()
	}
	return firstErr
}

// Wait blocks until a supervised goroutine fails or ctx ends.
func (a *App) Wait(ctx context.Context) error {
	return a.sup.Wait(ctx)
}

// applyLoop pushes accepted config reloads into the running services.
// Token and storage path changes need a restart and are ignored here.
func (a *App) applyLoop(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.sender.Apply(notifierConfig(cfg))
	lcCfg, err := lifecycleConfig(cfg)
	if err != nil {
		// Validate accepted the reload, so this is unreachable in practice.
		a.log.Error("resolve lifecycle config", logx.Err(err))
		return
	}
	a.engine.Apply(lcCfg)
	a.router.Apply(router.Config{Location: lcCfg.Location})
	a.log.Info("config applied")
}

// notifierConfig resolves delivery pacing from the raw config.
func notifierConfig(cfg *config.Config) notify.Config {
	timeout, _ := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 10*time.Second)
	return notify.Config{
		RatePerSec:    cfg.Notifier.RatePerSec,
		SendTimeout:   timeout,
		ScratchChatID: cfg.Telegram.ScratchChatID,
	}
}

// lifecycleConfig resolves the reminder engine settings from the raw
// config: durations parsed, timezone loaded, defaults left to the engine.
func lifecycleConfig(cfg *config.Config) (lifecycle.Config, error) {
	lc := cfg.Lifecycle

	tz := lc.Timezone
	if tz == "" {
		tz = "US/Eastern"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return lifecycle.Config{}, fmt.Errorf("lifecycle.timezone: %w", err)
	}

	var offsets []time.Duration
	for i, raw := range lc.ReminderOffsets {
		d, err := config.ParseDurationField(fmt.Sprintf("lifecycle.reminder_offsets[%d]", i), raw)
		if err != nil {
			return lifecycle.Config{}, err
		}
		offsets = append(offsets, d)
	}

	intro, err := config.ParseDurationOrDefault("lifecycle.intro_threshold", lc.IntroThreshold, 0)
	if err != nil {
		return lifecycle.Config{}, err
	}
	followup, err := config.ParseDurationOrDefault("lifecycle.intro_followup_threshold", lc.IntroFollowupThreshold, 0)
	if err != nil {
		return lifecycle.Config{}, err
	}
	eventTick, err := config.ParseDurationOrDefault("lifecycle.event_tick", lc.EventTick, 0)
	if err != nil {
		return lifecycle.Config{}, err
	}
	probeTick, err := config.ParseDurationOrDefault("lifecycle.probe_tick", lc.ProbeTick, 0)
	if err != nil {
		return lifecycle.Config{}, err
	}

	return lifecycle.Config{
		Location:               loc,
		Offsets:                offsets,
		IntroThreshold:         intro,
		IntroFollowupThreshold: followup,
		DailySpec:              lc.DailySpec,
		EventTick:              eventTick,
		ProbeTick:              probeTick,
		BatchFanout:            lc.BatchFanout,
	}, nil
}
