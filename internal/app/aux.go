package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"remindbot/internal/api"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/maintenance"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// auxServices runs the HTTP API and the maintenance cron. Both are rebuilt
// from config on reload; a change restarts them under a fresh supervisor.
type auxServices struct {
	svc   *reminder.Service
	store *storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	applied *auxConfig
}

// auxConfig is the slice of config the aux services are built from.
type auxConfig struct {
	API         config.APIConfig
	Maintenance config.MaintenanceConfig
	MaxBody     int
}

func auxConfigOf(cfg *config.Config) *auxConfig {
	return &auxConfig{API: cfg.API, Maintenance: cfg.Maintenance, MaxBody: cfg.Reminders.MaxBody}
}

func newAuxServices(svc *reminder.Service, st *storage.Store, bus eventbus.Bus, log logx.Logger) *auxServices {
	return &auxServices{svc: svc, store: st, bus: bus, log: log}
}

// apply starts the services on first call and restarts them when their
// config changed. Build errors keep the running set.
func (x *auxServices) apply(ctx context.Context, cfg *config.Config) error {
	next := auxConfigOf(cfg)

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.applied != nil && reflect.DeepEqual(x.applied, next) {
		return nil
	}

	srv, err := buildAPI(cfg, x.svc, x.log)
	if err != nil {
		return err
	}
	mnt, err := buildMaintenance(cfg, x.store, x.bus, x.log)
	if err != nil {
		return err
	}

	if x.sup != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := x.sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			x.log.Warn("aux services did not stop cleanly", logx.Err(err))
		}
		cancel()
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(x.log.With(logx.String("comp", "aux"))))
	if srv != nil {
		sup.GoRestart("api.http", srv.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if mnt != nil {
		sup.GoRestart("maintenance.cron", mnt.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	x.sup = sup
	x.applied = next
	x.log.Info("aux services applied", logx.Bool("api", srv != nil), logx.Bool("maintenance", mnt != nil))
	return nil
}

func (x *auxServices) stop(ctx context.Context) error {
	x.mu.Lock()
	sup := x.sup
	x.sup = nil
	x.applied = nil
	x.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildAPI returns nil when the API is disabled.
func buildAPI(cfg *config.Config, svc *reminder.Service, log logx.Logger) (*api.Server, error) {
	if !cfg.API.Enabled {
		return nil, nil
	}
	rt, err := config.Field("api.read_timeout").Duration(cfg.API.ReadTimeout)
	if err != nil {
		return nil, err
	}
	wt, err := config.Field("api.write_timeout").Duration(cfg.API.WriteTimeout)
	if err != nil {
		return nil, err
	}
	rs, err := cfg.Reminders.Resolve()
	if err != nil {
		return nil, err
	}
	return api.New(api.Config{
		Addr:         strings.TrimSpace(cfg.API.Addr),
		JWTSecret:    []byte(cfg.API.JWTSecret),
		ReadTimeout:  rt,
		WriteTimeout: wt,
		MaxBody:      rs.MaxBody,
	}, svc, log)
}

// buildMaintenance returns nil when maintenance is disabled.
func buildMaintenance(cfg *config.Config, st maintenance.Store, bus eventbus.Bus, log logx.Logger) (*maintenance.Service, error) {
	if !cfg.Maintenance.Enabled {
		return nil, nil
	}
	mc, err := maintenance.ConfigFrom(cfg.Maintenance)
	if err != nil {
		return nil, err
	}
	return maintenance.New(mc, st, log, bus)
}
