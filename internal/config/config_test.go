package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleYAML = `
telegram:
  token: "file-token"
  owner_user_ids: [11, 22]
  ops_chat: "-1001234"
  poll_timeout: 10s
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/remindbot.db
reminders:
  shard_count: 4
  shards: [1, 3]
  postpone_delay: 2m
  timezone: Europe/Berlin
plugins:
  reminders:
    enabled: true
    config: {max_list: 10}
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	m.getenv = func(string) string { return "" }

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "file-token" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if !reflect.DeepEqual(cfg.Telegram.OwnerUserIDs, []int64{11, 22}) {
		t.Fatalf("OwnerUserIDs = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Reminders.ShardCount != 4 || !reflect.DeepEqual(cfg.Reminders.Shards, []int{1, 3}) {
		t.Fatalf("unexpected reminders section: %+v", cfg.Reminders)
	}
	if !cfg.PluginEnabled("reminders") || !cfg.PluginEnabled("prefix") {
		t.Fatal("expected plugins enabled")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	body := strings.Replace(sampleYAML, "  poll_timeout: 10s", "  poll_timout: 10s", 1)
	m := NewConfigManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseJSONWithEnvOverride(t *testing.T) {
	t.Parallel()
	raw := `{"telegram":{"token":"file-token"},"api":{"enabled":true}}`
	m := NewConfigManager(writeConfig(t, "config.json", raw))
	env := map[string]string{
		EnvTelegramToken: " env-token ",
		EnvAPISecret:     "s3cret",
	}
	m.getenv = func(k string) string { return env[k] }

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("Token = %q, want env-token", cfg.Telegram.Token)
	}
	if cfg.API.JWTSecret != "s3cret" {
		t.Fatalf("JWTSecret = %q", cfg.API.JWTSecret)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestReminderSettingsDefaults(t *testing.T) {
	t.Parallel()
	got, err := RemindersConfig{}.Resolve()
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.ShardCount != 1 || !reflect.DeepEqual(got.Shards, []int{0}) {
		t.Fatalf("shards = %d %v", got.ShardCount, got.Shards)
	}
	if got.PostponeDelay != 5*time.Minute {
		t.Fatalf("PostponeDelay = %v", got.PostponeDelay)
	}
	if got.ErrorBackoff != time.Second || got.ErrorBackoffMax != 30*time.Second {
		t.Fatalf("backoff = %v..%v", got.ErrorBackoff, got.ErrorBackoffMax)
	}
	if got.MaxBody != 1500 || got.Location != time.UTC {
		t.Fatalf("MaxBody = %d, Location = %v", got.MaxBody, got.Location)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "minimal", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad ops chat", mutate: func(c *Config) { c.Telegram.OpsChat = "ops" }, wantErr: "telegram.ops_chat"},
		{name: "shard out of range", mutate: func(c *Config) {
			c.Reminders.ShardCount = 2
			c.Reminders.Shards = []int{2}
		}, wantErr: "out of range"},
		{name: "duplicate shard", mutate: func(c *Config) {
			c.Reminders.ShardCount = 2
			c.Reminders.Shards = []int{1, 1}
		}, wantErr: "duplicate"},
		{name: "bad postpone", mutate: func(c *Config) { c.Reminders.PostponeDelay = "soon" }, wantErr: "postpone_delay"},
		{name: "bad timezone", mutate: func(c *Config) { c.Reminders.Timezone = "Mars/Olympus" }, wantErr: "reminders.timezone"},
		{name: "api without secret", mutate: func(c *Config) { c.API.Enabled = true }, wantErr: "api.jwt_secret"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "storage.driver"},
		{name: "unknown level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "tok-old"},
		Plugins: map[string]PluginConfigRaw{
			"reminders": {Enabled: true, Config: json.RawMessage(`{"a":1,"b":2}`)},
		},
	}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "tok-new"},
		Reminders: RemindersConfig{PostponeDelay: "1m"},
		Plugins: map[string]PluginConfigRaw{
			"reminders": {Enabled: true, Config: json.RawMessage(`{ "b":2, "a":1 }`)},
			"prefix":    {Enabled: false},
		},
	}

	sections, attrs, plugins := SummarizeConfigChange(oldCfg, newCfg)
	if !reflect.DeepEqual(sections, []string{"plugins", "reminders", "telegram"}) {
		t.Fatalf("sections = %v", sections)
	}
	if !reflect.DeepEqual(plugins, []string{"prefix"}) {
		t.Fatalf("plugins = %v", plugins)
	}
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := logger.Info()
	for _, f := range attrs {
		f(e)
	}
	e.Msg("")
	if strings.Contains(buf.String(), "tok-") {
		t.Fatalf("token leaked: %s", buf.String())
	}
	if got := RestartRequired(sections); !reflect.DeepEqual(got, []string{"reminders", "telegram"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestFieldDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{raw: "", def: time.Minute, want: time.Minute},
		{raw: "0s", def: time.Minute, want: time.Minute},
		{raw: " 90s ", want: 90 * time.Second},
		{raw: "30d", want: 30 * 24 * time.Hour},
		{raw: "1.5d", wantErr: true},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Field("maintenance.audit_retention").DurationOr(tc.raw, tc.def)
		if tc.wantErr {
			if err == nil || !strings.HasPrefix(err.Error(), "maintenance.audit_retention:") {
				t.Fatalf("%q: err = %v, want a field error", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}
}

func TestFieldLocation(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		raw        string
		wantOffset int
		wantErr    bool
	}{
		{raw: "", wantOffset: 0},
		{raw: "UTC", wantOffset: 0},
		{raw: "+03:00", wantOffset: 3 * 3600},
		{raw: "-05:30", wantOffset: -(5*3600 + 30*60)},
		{raw: "+3", wantErr: true},
		{raw: "Mars/Olympus", wantErr: true},
	}
	for _, tc := range cases {
		loc, err := Field("reminders.timezone").Location(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if _, off := at.In(loc).Zone(); off != tc.wantOffset {
			t.Fatalf("%q: offset = %d, want %d", tc.raw, off, tc.wantOffset)
		}
	}
}
