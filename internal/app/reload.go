package app

import (
	"context"
	"slices"
	"strings"

	"remindbot/internal/config"
	logx "remindbot/pkg/logx"
)

// reloadLoop fans committed configs out to the live components. Telegram,
// storage and reminders changes are logged and wait for a restart.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains bursts so only the newest config is applied.
func latest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}

	if slices.Contains(sections, "logging") || slices.Contains(sections, "telegram") {
		a.logs.Apply(logConfig(newCfg))
	}

	// Owner list is live even though the rest of telegram is not.
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if err := a.aux.apply(c, newCfg); err != nil {
		a.log.Warn("invalid api/maintenance config; keeping previous", logx.Err(err))
	}

	a.pm.OnConfigUpdate(c, newCfg)

	a.log.Info("config reloaded", fields...)
}
