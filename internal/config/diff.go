package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe attrs for logging
// (never secrets) and the plugin names whose enable flag or config changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.OpsChat) != strings.TrimSpace(nt.OpsChat) ||
		ot.SendRatePerSec != nt.SendRatePerSec ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.ops_chat_set", strings.TrimSpace(nt.OpsChat) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		nl := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.ops_enabled", nl.Ops.Enabled),
			logx.String("logging.ops_min_level", nl.Ops.MinLevel),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ns := newCfg.Storage
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(ns.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		nr := newCfg.Reminders
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int("reminders.shard_count", nr.ShardCount),
			logx.Int("reminders.shards", len(nr.Shards)),
			logx.String("reminders.postpone_delay", nr.PostponeDelay),
			logx.Int("reminders.max_body", nr.MaxBody),
			logx.String("reminders.timezone", nr.Timezone),
		)
	}

	oa, na := oldCfg.API, newCfg.API
	if oa.Enabled != na.Enabled ||
		strings.TrimSpace(oa.Addr) != strings.TrimSpace(na.Addr) ||
		oa.ReadTimeout != na.ReadTimeout ||
		oa.WriteTimeout != na.WriteTimeout ||
		oa.JWTSecret != na.JWTSecret {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", na.Enabled),
			logx.String("api.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("api.secret_changed", oa.JWTSecret != na.JWTSecret),
		)
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		nm := newCfg.Maintenance
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nm.Enabled),
			logx.String("maintenance.optimize", nm.Optimize),
			logx.String("maintenance.stats", nm.Stats),
			logx.String("maintenance.prune_audit", nm.PruneAudit),
		)
	}

	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

// RestartRequired lists changed sections that only apply after a restart.
// Logging, maintenance, api and plugins are reapplied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "storage", "reminders":
			out = append(out, s)
		}
	}
	return out
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, ook := oldM[name]
		n, nok := newM[name]
		// Missing entries are enabled by default.
		if !ook {
			o.Enabled = true
		}
		if !nok {
			n.Enabled = true
		}
		if o.Enabled != n.Enabled || canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
