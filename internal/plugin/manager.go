package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// Event types published on the bus.
const (
	EventStarted      = "plugin.started"
	EventStopped      = "plugin.stopped"
	EventStartFailed  = "plugin.start_failed"
	EventConfigFailed = "plugin.config_failed"
	EventStopTimeout  = "plugin.stop_timeout"
)

type Event struct {
	Plugin string `json:"plugin"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

// Registry receives the commands of running plugins.
type Registry interface {
	SetRegistry(cmds []router.Command)
}

// ConfigSource is satisfied by *config.ConfigManager.
type ConfigSource interface {
	Get() *config.Config
}

const callTimeout = 10 * time.Second

// Manager starts enabled plugins, stops disabled ones on config reload and
// keeps the command registry in sync with what is running.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  ConfigSource
	deps Deps
	reg  Registry

	plugins map[string]Plugin
	order   []string
	running map[string]bool
	inited  map[string]bool
	cfgHash map[string]uint64
	cancel  map[string]context.CancelFunc

	// baseCtx outlives call-scoped contexts passed to StartAll/OnConfigUpdate.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool
}

func NewManager(log logx.Logger, cfg ConfigSource, deps Deps, reg Registry) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		log:        log.With(logx.String("comp", "plugins")),
		cfg:        cfg,
		deps:       deps,
		reg:        reg,
		plugins:    map[string]Plugin{},
		running:    map[string]bool{},
		inited:     map[string]bool{},
		cfgHash:    map[string]uint64{},
		cancel:     map[string]context.CancelFunc{},
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

func (pm *Manager) emit(typ string, e Event) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: e})
}

// Register adds plugins; they start on the next StartAll or reload.
func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		name := pl.Name()
		if _, dup := pm.plugins[name]; !dup {
			pm.order = append(pm.order, name)
		}
		pm.plugins[name] = pl
	}
}

// bind ties baseCtx to appCtx. The first call wins.
func (pm *Manager) bind(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	pm.mu.Unlock()
	context.AfterFunc(appCtx, pm.baseCancel)
}

func (pm *Manager) StartAll(ctx context.Context) error {
	pm.bind(ctx)
	return pm.reconcile(pm.cfg.Get())
}

func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	pm.bind(ctx)
	_ = pm.reconcile(cfg)
}

// StopAll stops running plugins in reverse registration order.
func (pm *Manager) StopAll(ctx context.Context, reason string) {
	pm.mu.Lock()
	names := append([]string(nil), pm.order...)
	pm.mu.Unlock()
	for i := len(names) - 1; i >= 0; i-- {
		pm.stopOne(ctx, names[i], reason)
	}
	pm.refreshRegistry(pm.cfg.Get())
}

// Running lists running plugin names, sorted.
func (pm *Manager) Running() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var out []string
	for name, ok := range pm.running {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (pm *Manager) reconcile(cfg *config.Config) error {
	if cfg == nil {
		cfg = &config.Config{}
	}
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.order))
	for _, name := range pm.order {
		raw := cfg.Plugins[name]
		ops = append(ops, op{name: name, p: pm.plugins[name], raw: raw, enabled: cfg.PluginEnabled(name), run: pm.running[name]})
	}
	pm.mu.Unlock()

	var firstErr error
	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			if err := pm.startOne(o.name, o.p, o.raw); err != nil {
				pm.log.Error("plugin start failed", logx.String("plugin", o.name), logx.Err(err))
				pm.emit(EventStartFailed, Event{Plugin: o.name, Err: err.Error()})
				if firstErr == nil {
					firstErr = fmt.Errorf("plugin %s: %w", o.name, err)
				}
			}
		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, "disabled")
			cancel()
		case o.enabled && o.run:
			pm.reapplyConfig(o.name, o.p, o.raw)
		}
	}
	pm.refreshRegistry(cfg)
	return firstErr
}

func (pm *Manager) startOne(name string, p Plugin, raw config.PluginConfigRaw) error {
	pctx, cancel := context.WithCancel(pm.baseCtx)

	pm.mu.Lock()
	needInit := !pm.inited[name]
	pm.mu.Unlock()
	// Init runs once per process; enable/disable cycles only Start and Stop.
	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, pm.deps) })
		icancel()
		if err != nil {
			cancel()
			return fmt.Errorf("init: %w", err)
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			cancel()
			return fmt.Errorf("config: %w", err)
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		cancel()
		return err
	}

	pm.mu.Lock()
	pm.running[name] = true
	pm.cancel[name] = cancel
	pm.cfgHash[name] = raw.Hash()
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(EventStarted, Event{Plugin: name})
	return nil
}

// reapplyConfig hands a changed config blob to a running plugin. A plugin
// that rejects it is stopped rather than left half-configured.
func (pm *Manager) reapplyConfig(name string, p Plugin, raw config.PluginConfigRaw) {
	cp, ok := p.(ConfigurablePlugin)
	if !ok {
		return
	}
	h := raw.Hash()
	pm.mu.Lock()
	unchanged := pm.cfgHash[name] == h
	pm.mu.Unlock()
	if unchanged {
		return
	}

	cctx, ccancel := context.WithTimeout(pm.baseCtx, callTimeout)
	err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
	ccancel()
	if err != nil {
		pm.log.Error("plugin config rejected; stopping plugin", logx.String("plugin", name), logx.Err(err))
		pm.emit(EventConfigFailed, Event{Plugin: name, Err: err.Error()})
		stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
		pm.stopOne(stopCtx, name, "config_rejected")
		cancel()
		return
	}
	pm.mu.Lock()
	pm.cfgHash[name] = h
	pm.mu.Unlock()
	pm.log.Info("plugin config applied", logx.String("plugin", name))
}

func (pm *Manager) stopOne(stopCtx context.Context, name, reason string) {
	pm.mu.Lock()
	p := pm.plugins[name]
	running := pm.running[name]
	cancel := pm.cancel[name]
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	if cancel != nil {
		cancel()
	}

	// a misbehaving Stop must not block shutdown forever
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit(EventStopTimeout, Event{Plugin: name, Reason: reason, Err: stopCtx.Err().Error()})
	}

	pm.mu.Lock()
	pm.running[name] = false
	delete(pm.cancel, name)
	delete(pm.cfgHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit(EventStopped, Event{Plugin: name, Reason: reason, TookMS: took.Milliseconds()})
	pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", reason), logx.Duration("took", took))
}

// startWithTimeout calls Start(pctx) with a deadline; on timeout the plugin
// context is cancelled.
func (pm *Manager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *Manager) refreshRegistry(cfg *config.Config) {
	if pm.reg == nil {
		return
	}
	pm.mu.Lock()
	var cmds []router.Command
	for _, name := range pm.order {
		if !pm.running[name] {
			continue
		}
		timeout := pluginCommandTimeout(cfg, name)
		for _, c := range pm.safeCommands(name, pm.plugins[name]) {
			c.PluginName = name
			if c.Timeout <= 0 {
				c.Timeout = timeout
			}
			cmds = append(cmds, c)
		}
	}
	pm.mu.Unlock()
	pm.reg.SetRegistry(cmds)
}

func (pm *Manager) safeCommands(name string, p Plugin) (out []router.Command) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()", logx.String("plugin", name), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Commands()
}

// pluginCommandTimeout reads plugins.<name>.config.timeouts.command,
// defaulting to 15s.
func pluginCommandTimeout(cfg *config.Config, name string) time.Duration {
	const def = 15 * time.Second
	if cfg == nil {
		return def
	}
	raw, ok := cfg.Plugins[name]
	if !ok || len(raw.Config) == 0 {
		return def
	}
	var w struct {
		Timeouts struct {
			Command string `json:"command"`
		} `json:"timeouts"`
	}
	if err := json.Unmarshal(raw.Config, &w); err != nil || w.Timeouts.Command == "" {
		return def
	}
	d, err := time.ParseDuration(w.Timeouts.Command)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
