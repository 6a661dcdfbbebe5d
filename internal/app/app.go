// Package app wires configuration, storage, the scheduler and the HTTP
// surface into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"time"

	"cronix/internal/api"
	"cronix/internal/config"
	"cronix/internal/eventbus"
	"cronix/internal/notify"
	"cronix/internal/registry"
	"cronix/internal/runner"
	"cronix/internal/runtime/supervisor"
	"cronix/internal/scheduler"
	"cronix/internal/scripts"
	"cronix/internal/storage"
	"cronix/pkg/logx"
)

type App struct {
	cfgm   *config.Manager
	cfg    *config.Config
	logSvc *logx.Service
	log    logx.Logger

	store *storage.Store
	bus   eventbus.Bus
	reg   *registry.Registry
	sched *scheduler.Service
	disp  *notify.Dispatcher
	feed  *api.Feed
	api   *api.Server

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("database.busy_timeout", cfg.Database.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.SeedNotifications(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed notifications: %w", err)
	}

	bus := eventbus.New()
	reg := registry.New(store, log.With(logx.String("comp", "registry")))

	termGrace, err := config.ParseDurationOrDefault("scheduler.term_grace", cfg.Scheduler.TermGrace, 5*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	run := runner.New(runner.Config{
		OutputLimit: cfg.Scheduler.OutputLimitBytes,
		TermGrace:   termGrace,
	}, log.With(logx.String("comp", "runner")))

	sched := scheduler.New(scheduler.Config{
		Tick:    cfg.TickDuration(),
		Workers: cfg.Scheduler.Workers,
	}, store, reg, run, bus, log.With(logx.String("comp", "scheduler")))

	notifyTimeout, err := config.ParseDurationOrDefault("notifier.timeout", cfg.Notifier.Timeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := notify.New(notify.Config{
		RatePerSec:    cfg.Notifier.RatePerSec,
		Timeout:       notifyTimeout,
		OutputSnippet: cfg.Notifier.OutputSnippetBytes,
	}, store, log.With(logx.String("comp", "notify")))

	readTimeout, _ := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 15*time.Second)
	writeTimeout, _ := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	scriptSvc, err := scripts.New(cfg.Scripts.Dir, log.With(logx.String("comp", "scripts")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	feed := api.NewFeed(256)
	apiSrv := api.New(api.Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, store, sched, reg, feed, scriptSvc, log.With(logx.String("comp", "api")))

	return &App{
		cfgm:   cfgm,
		cfg:    cfg,
		logSvc: logSvc,
		log:    log,
		store:  store,
		bus:    bus,
		reg:    reg,
		sched:  sched,
		disp:   disp,
		feed:   feed,
		api:    apiSrv,
	}, nil
}

// Start launches all long-running components under a supervisor. It returns
// once everything is running; the caller blocks on its own signal context.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("notifier", func(ctx context.Context) error {
		return a.disp.Run(ctx, a.bus)
	})
	a.sup.Go("activity-feed", func(ctx context.Context) error {
		return a.feed.Run(ctx, a.bus)
	})
	a.sup.Go("http", a.api.Run)
	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go("config-apply", a.applyConfigUpdates)

	a.log.Info("cronix started",
		logx.String("listen", a.cfg.Server.Listen),
		logx.String("db", a.cfg.Database.Path))
	return nil
}

// applyConfigUpdates consumes hot-reloaded configs. Only logging settings
// take effect live; scheduler and server changes need a restart.
func (a *App) applyConfigUpdates(ctx context.Context) error {
	sub := a.cfgm.Subscribe(1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.ConsoleLogging(),
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("configuration reloaded", logx.String("level", cfg.Logging.Level))
		}
	}
}

// Done is closed once any supervised component fails or the parent context
// is cancelled. Only valid after Start.
func (a *App) Done() <-chan struct{} {
	return a.sup.Context().Done()
}

// Stop shuts components down and releases resources.
func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	_ = a.logSvc.Close()
	return err
}

// Err surfaces the first component failure, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}
