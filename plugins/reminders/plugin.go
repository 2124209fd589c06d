// Package reminders is the chat surface of the reminder service: the
// /remind commands and the delivery loops for this process's shards.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/plugin"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

type Config struct {
	// PageSize is the number of reminders per /remind list page.
	PageSize int                   `json:"page_size,omitempty"`
	Timeouts plugin.TimeoutsConfig `json:"timeouts,omitempty"`
}

type Plugin struct {
	plugin.PluginBase

	mu       sync.RWMutex
	cfg      Config
	settings config.ReminderSettings
	attached []int

	now func() time.Time
}

func New() *Plugin { return &Plugin{now: time.Now} }

func (p *Plugin) Name() string { return "reminders" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Reminders == nil || deps.Store == nil {
		return errors.New("reminders: service and store are required")
	}
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("decode reminders config: %w", err)
	}
	if err := c.Timeouts.Validate("plugins.reminders.config.timeouts"); err != nil {
		return err
	}
	if c.PageSize < 0 || c.PageSize > 50 {
		return fmt.Errorf("plugins.reminders.config.page_size: %d out of range [0,50]", c.PageSize)
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) getConfig() Config {
	p.mu.RLock()
	c := p.cfg
	p.mu.RUnlock()
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	return c
}

func (p *Plugin) reminderSettings() config.ReminderSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Start runs one delivery loop per configured shard and attaches it to the
// service so producers can wake it.
func (p *Plugin) Start(ctx context.Context) error {
	var rc config.RemindersConfig
	if p.Deps.Config != nil {
		if cfg := p.Deps.Config.Get(); cfg != nil {
			rc = cfg.Reminders
		}
	}
	settings, err := rc.Resolve()
	if err != nil {
		return err
	}
	if settings.ShardCount != p.Deps.Reminders.ShardCount() {
		return fmt.Errorf("reminders.shard_count is %d but the service was built with %d", settings.ShardCount, p.Deps.Reminders.ShardCount())
	}

	delivery := &telegramDelivery{adapter: p.Deps.Adapter, dir: p.Deps.Directory}
	loops := make([]*reminder.Scheduler, 0, len(settings.Shards))
	for _, shard := range settings.Shards {
		sched, err := reminder.NewScheduler(reminder.Config{
			Shard:           shard,
			PostponeDelay:   settings.PostponeDelay,
			ErrorBackoff:    settings.ErrorBackoff,
			ErrorBackoffMax: settings.ErrorBackoffMax,
			StoreTimeout:    settings.StoreTimeout,
			SendTimeout:     settings.SendTimeout,
		}, reminder.Deps{
			Store:    p.Deps.Store,
			Resolver: delivery,
			Sender:   delivery,
			Log:      p.Log,
			Bus:      p.Deps.Bus,
		})
		if err != nil {
			return fmt.Errorf("shard %d: %w", shard, err)
		}
		loops = append(loops, sched)
	}

	p.StartBase(ctx)
	p.mu.Lock()
	p.settings = settings
	p.attached = p.attached[:0]
	p.mu.Unlock()

	for _, sched := range loops {
		p.Runner.GoRestart(fmt.Sprintf("reminder.shard.%d", sched.Shard()), sched.Run,
			supervisor.WithRestartBackoff(settings.ErrorBackoff, settings.ErrorBackoffMax),
		)
		p.Deps.Reminders.Attach(sched.Shard(), sched)
		p.mu.Lock()
		p.attached = append(p.attached, sched.Shard())
		p.mu.Unlock()
	}
	p.Log.Info("reminder loops started",
		logx.Int("shard_count", settings.ShardCount),
		logx.Any("shards", settings.Shards),
	)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	attached := p.attached
	p.attached = nil
	p.mu.Unlock()
	for _, shard := range attached {
		p.Deps.Reminders.Attach(shard, nil)
	}
	return p.StopBase(ctx)
}
