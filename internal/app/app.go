// Package app wires config, logging, the Telegram adapter, storage, the
// reminder service and plugins into one process with a bounded shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/plugin"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const defaultStoragePath = "./data/remindbot.db"

// Stop reasons logged by Stop and passed to plugins.
const (
	StopSignal     = "signal"
	StopFatalError = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter

	reminders *reminder.Service
	aux       *auxServices

	cmdm *router.CommandManager
	pm   *plugin.Manager

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The adapter needs a logger and the ops log sink needs the adapter, so
	// logging starts without a sender and gets one right after.
	logSvc, root := logx.New(logConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	pollTimeout, err := config.Field("telegram.poll_timeout").DurationOr(cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	sc, err := storageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("path", sc.Path))

	rs, err := cfg.Reminders.Resolve()
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}
	svc := reminder.NewService(st, reminder.ServiceOptions{
		ShardCount: rs.ShardCount,
		Auditor:    st,
		Log:        root.With(logx.String("comp", "reminders")),
	})

	cmdm := router.NewCommandManager(root.With(logx.String("comp", "commands")),
		ad, cfgm, st, cfg.Telegram.OwnerUserIDs)

	pm := plugin.NewManager(root.With(logx.String("comp", "plugins")),
		cfgm, plugin.Deps{
			Logger:    root,
			Adapter:   ad,
			Directory: ad,
			Config:    cfgm,
			Bus:       bus,
			Store:     st,
			Reminders: svc,
			Prefixes:  cmdm,
		}, cmdm)

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     st,
		adapter:   ad,
		reminders: svc,
		aux:       newAuxServices(svc, st, bus, root),
		cmdm:      cmdm,
		pm:        pm,
		updates:   make(chan kit.Update, 256),
	}, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cmdm.SetAppSupervisor(a.sup)

	// transactional config reload: config.Validate runs first, this adds
	// checks that need the app's view.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	if err := a.aux.apply(a.sup.Context(), a.cfgm.Get()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifyReady()
	a.log.Info("app started", logx.Int("shards", a.reminders.ShardCount()), logx.Any("plugins", a.pm.Running()))
	return nil
}

// validate rejects reloads the running process cannot honour.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	rs, err := cfg.Reminders.Resolve()
	if err != nil {
		return err
	}
	if rs.ShardCount != a.reminders.ShardCount() {
		return fmt.Errorf("reminders.shard_count cannot change at runtime (running %d, got %d)", a.reminders.ShardCount(), rs.ShardCount)
	}
	if _, err := buildMaintenance(cfg, a.store, a.bus, logx.Nop()); err != nil {
		return err
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.notifyStopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honour stepCtx; if it does not, log the leak and move on.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Plugins own the shard loops; a loop interrupted mid-delivery leaves its
	// row in place and it fires again on the next start.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("aux", 3*time.Second, a.aux.stop)
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func logConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    lc.Ops.Enabled,
			ThreadID:   lc.Ops.ThreadID,
			MinLevel:   lc.Ops.MinLevel,
			RatePerSec: lc.Ops.RatePerSec,
		},
	}
	// No target means nothing to mirror to; Validate already rejected a
	// malformed id.
	if id, ok, err := cfg.Telegram.OpsChatID(); err == nil && ok {
		out.Ops.ChatID = id
	} else {
		out.Ops.Enabled = false
	}
	return out
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Field("storage.busy_timeout").Duration(cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStoragePath
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}
