package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram    TelegramConfig             `json:"telegram"`
	Logging     LoggingConfig              `json:"logging"`
	Storage     StorageConfig              `json:"storage"`
	Reminders   RemindersConfig            `json:"reminders"`
	API         APIConfig                  `json:"api"`
	Maintenance MaintenanceConfig          `json:"maintenance"`
	Plugins     map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// OpsChat is the chat id that receives WARN+ log records.
	OpsChat string `json:"ops_chat"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout    string `json:"poll_timeout"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the reminder store.
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RemindersConfig controls the delivery loops.
//
// Defaults (when omitted):
//   - shard_count: 1
//   - shards: all of [0, shard_count)
//   - postpone_delay: "5m"
//   - error_backoff: "1s", error_backoff_max: "30s"
//   - store_timeout: "5s", send_timeout: "15s"
//   - max_body: 1500 runes
//   - timezone: UTC
type RemindersConfig struct {
	ShardCount      int    `json:"shard_count,omitempty"`
	Shards          []int  `json:"shards,omitempty"`
	PostponeDelay   string `json:"postpone_delay,omitempty"`
	ErrorBackoff    string `json:"error_backoff,omitempty"`
	ErrorBackoffMax string `json:"error_backoff_max,omitempty"`
	StoreTimeout    string `json:"store_timeout,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	MaxBody         int    `json:"max_body,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// APIConfig controls the HTTP producer API.
//
// Security note: the API is bearer-token protected (HS256). Keep jwt_secret
// out of the config file and pass it via REMINDBOT_API_JWT_SECRET.
type APIConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8088"
	JWTSecret    string `json:"jwt_secret,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// MaintenanceConfig schedules periodic store housekeeping (cron specs).
type MaintenanceConfig struct {
	Enabled        bool   `json:"enabled"`
	Optimize       string `json:"optimize,omitempty"`        // default "@daily"
	Stats          string `json:"stats,omitempty"`           // default "@hourly"
	PruneAudit     string `json:"prune_audit,omitempty"`     // default "@daily"
	AuditRetention string `json:"audit_retention,omitempty"` // default "720h"
	Timezone       string `json:"timezone,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos surface on reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

// Hash identifies the plugin config blob regardless of formatting.
func (p PluginConfigRaw) Hash() uint64 { return canonicalHashJSON(p.Config) }

// PluginEnabled reports whether name is enabled. Plugins missing from the
// config are enabled by default.
func (c *Config) PluginEnabled(name string) bool {
	if c == nil || c.Plugins == nil {
		return true
	}
	p, ok := c.Plugins[name]
	if !ok {
		return true
	}
	return p.Enabled
}
