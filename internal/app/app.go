// Package app assembles the daemon: config, logging, store, couriers,
// throttle gate, detectors, delivery worker, cron maintenance jobs, and the
// config reload fanout.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nestwatch/internal/config"
	"nestwatch/internal/delivery"
	"nestwatch/internal/detect"
	"nestwatch/internal/eventbus"
	"nestwatch/internal/ingest"
	"nestwatch/internal/pipeline"
	"nestwatch/internal/runtime/supervisor"
	"nestwatch/internal/store"
	"nestwatch/internal/throttle"
	logx "nestwatch/pkg/logx"
)

const defaultRedeliverEvery = 10 * time.Minute

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store store.Store
	gate  *throttle.Gate
	del   *delivery.Service
	pipe  *pipeline.Service
	spool *ingest.Service

	sup  *supervisor.Supervisor
	cron *cron.Cron

	stopOnce sync.Once
}

// New loads and validates the config, then builds the full component graph.
// Nothing is running yet; call Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	a := &App{cfgm: cfgm, logs: logs, log: log, bus: eventbus.New()}

	stCfg, err := storeConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	email, push, err := buildCouriers(cfg.Couriers, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	delCfg, err := deliveryConfig(cfg.Delivery)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.del = delivery.New(delCfg, email, push, directoryFromConfig(cfg.Guardians),
		st, a.bus, log.With(logx.String("comp", "delivery")))

	a.gate = throttle.NewGate(throttleRules(cfg.Throttle), st, nil,
		log.With(logx.String("comp", "throttle")))

	set, err := pipelineSettings(cfg.Pipeline)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.pipe = pipeline.New(set, detect.All(), a.gate, a.del, a.bus,
		log.With(logx.String("comp", "pipeline")))

	if cfg.Ingest.Enabled {
		a.spool = ingest.New(cfg.Ingest.SpoolDir, a.pipe,
			log.With(logx.String("comp", "ingest")))
	}
	return a, nil
}

// Pipeline exposes the event entry point for embedders and tests.
func (a *App) Pipeline() *pipeline.Service { return a.pipe }

// Start launches the worker, cron jobs, config watcher and fanout, the bus
// logger, and (when enabled) the spool reader.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.del.Start(a.sup.Context())

	redeliver := defaultRedeliverEvery
	if cfg := a.cfgm.Get(); cfg != nil {
		d, err := config.ParseDurationOrDefault("delivery.redeliver_every",
			cfg.Delivery.RedeliverEvery, defaultRedeliverEvery)
		if err == nil {
			redeliver = d
		}
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc("@hourly", a.sweepThrottle); err != nil {
		return fmt.Errorf("schedule throttle sweep: %w", err)
	}
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", redeliver), a.sweepPending); err != nil {
		return fmt.Errorf("schedule redelivery sweep: %w", err)
	}
	if _, err := a.cron.AddFunc("@daily", a.logUnread); err != nil {
		return fmt.Errorf("schedule unread stats: %w", err)
	}
	a.cron.Start()

	a.sup.GoRestart("config-watch", a.cfgm.Watch)
	a.sup.Go0("config-fanout", a.configFanout)
	a.sup.Go0("bus-log", a.busLog)
	if a.spool != nil {
		a.sup.GoRestart("ingest-spool", a.spool.Run)
	}

	a.log.Info("nestwatch started",
		logx.Duration("redeliver_every", redeliver),
		logx.Bool("ingest", a.spool != nil))
	return nil
}

// Stop shuts everything down in dependency order. Safe to call more than once.
func (a *App) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if a.cron != nil {
			<-a.cron.Stop().Done()
		}
		if e := a.del.Stop(ctx); e != nil && err == nil {
			err = e
		}
		if a.sup != nil {
			if e := a.sup.Stop(ctx); e != nil && err == nil {
				err = e
			}
		}
		if e := a.store.Close(); e != nil && err == nil {
			err = e
		}
		a.log.Info("nestwatch stopped", logx.Err(err))
		_ = a.logs.Close()
	})
	return err
}

// sweepThrottle runs the hourly throttle window maintenance.
func (a *App) sweepThrottle() {
	pruned, removed := a.gate.Sweep()
	if pruned > 0 || removed > 0 {
		a.log.Debug("throttle windows swept",
			logx.Int("pruned", pruned), logx.Int("removed", removed))
	}
}

// sweepPending re-enqueues persisted alerts whose applicable delivery flags
// are still unset. Enqueue dedups, so racing the worker is harmless.
func (a *App) sweepPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alerts, err := a.store.FindAlertsForNotification(ctx)
	if err != nil {
		a.log.Warn("redelivery sweep failed", logx.Err(err))
		return
	}
	for _, al := range alerts {
		a.del.Enqueue(al)
	}
	if len(alerts) > 0 {
		a.log.Info("redelivery sweep re-enqueued pending alerts", logx.Int("count", len(alerts)))
	}
}

// logUnread reports per-guardian unread counts once a day.
func (a *App) logUnread() {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, g := range cfg.Guardians {
		n, err := a.store.CountUnread(ctx, g.UserID)
		if err != nil {
			a.log.Warn("unread count failed", logx.String("user", g.UserID), logx.Err(err))
			continue
		}
		if n > 0 {
			a.log.Info("unread alerts pending review",
				logx.String("user", g.UserID), logx.Int("unread", n))
		}
	}
}

// configFanout applies committed config revisions to the running services.
// Couriers, storage, and the redelivery schedule need a restart; everything
// else hot-swaps.
func (a *App) configFanout(ctx context.Context) {
	ch := a.cfgm.Subscribe(2)
	defer a.cfgm.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	if delCfg, err := deliveryConfig(cfg.Delivery); err == nil {
		a.del.Apply(delCfg)
	} else {
		a.log.Warn("delivery config not applied", logx.Err(err))
	}

	a.gate.SetRules(throttleRules(cfg.Throttle))

	if set, err := pipelineSettings(cfg.Pipeline); err == nil {
		a.pipe.Apply(set)
	} else {
		a.log.Warn("pipeline config not applied", logx.Err(err))
	}

	a.log.Info("runtime config applied")
}

// busLog turns pipeline lifecycle events into operational log lines.
func (a *App) busLog(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.TypeAlertDelivered:
				a.log.Debug("bus: alert delivered", logx.Any("event", ev.Data))
			case eventbus.TypeAlertExhausted:
				a.log.Warn("bus: alert delivery exhausted", logx.Any("event", ev.Data))
			case eventbus.TypeAlertSuppressed:
				a.log.Debug("bus: candidate suppressed", logx.Any("event", ev.Data))
			}
		}
	}
}
