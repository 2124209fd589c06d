package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReminderSettings is RemindersConfig with defaults applied and durations parsed.
type ReminderSettings struct {
	ShardCount      int
	Shards          []int
	PostponeDelay   time.Duration
	ErrorBackoff    time.Duration
	ErrorBackoffMax time.Duration
	StoreTimeout    time.Duration
	SendTimeout     time.Duration
	MaxBody         int
	Location        *time.Location
}

func (r RemindersConfig) Resolve() (ReminderSettings, error) {
	var (
		out ReminderSettings
		err error
	)
	out.ShardCount = r.ShardCount
	if out.ShardCount <= 0 {
		out.ShardCount = 1
	}
	if len(r.Shards) == 0 {
		out.Shards = make([]int, out.ShardCount)
		for i := range out.Shards {
			out.Shards[i] = i
		}
	} else {
		seen := make(map[int]struct{}, len(r.Shards))
		for _, s := range r.Shards {
			if s < 0 || s >= out.ShardCount {
				return ReminderSettings{}, fmt.Errorf("reminders.shards: %d out of range [0,%d)", s, out.ShardCount)
			}
			if _, dup := seen[s]; dup {
				return ReminderSettings{}, fmt.Errorf("reminders.shards: duplicate %d", s)
			}
			seen[s] = struct{}{}
			out.Shards = append(out.Shards, s)
		}
	}

	if out.PostponeDelay, err = Field("reminders.postpone_delay").DurationOr(r.PostponeDelay, 5*time.Minute); err != nil {
		return ReminderSettings{}, err
	}
	if out.ErrorBackoff, err = Field("reminders.error_backoff").DurationOr(r.ErrorBackoff, time.Second); err != nil {
		return ReminderSettings{}, err
	}
	if out.ErrorBackoffMax, err = Field("reminders.error_backoff_max").DurationOr(r.ErrorBackoffMax, 30*time.Second); err != nil {
		return ReminderSettings{}, err
	}
	if out.ErrorBackoffMax < out.ErrorBackoff {
		return ReminderSettings{}, errors.New("reminders.error_backoff_max must be >= error_backoff")
	}
	if out.StoreTimeout, err = Field("reminders.store_timeout").DurationOr(r.StoreTimeout, 5*time.Second); err != nil {
		return ReminderSettings{}, err
	}
	if out.SendTimeout, err = Field("reminders.send_timeout").DurationOr(r.SendTimeout, 15*time.Second); err != nil {
		return ReminderSettings{}, err
	}
	out.MaxBody = r.MaxBody
	if out.MaxBody <= 0 {
		out.MaxBody = 1500
	}
	if out.Location, err = Field("reminders.timezone").Location(r.Timezone); err != nil {
		return ReminderSettings{}, err
	}
	return out, nil
}

// OpsChatID parses telegram.ops_chat. ok is false when it is unset.
func (t TelegramConfig) OpsChatID() (id int64, ok bool, err error) {
	s := strings.TrimSpace(t.OpsChat)
	if s == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("telegram.ops_chat: invalid chat id %q", s)
	}
	return id, true, nil
}

// Validate checks everything that can be checked without I/O.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if _, err := Field("telegram.poll_timeout").Duration(cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Telegram.SendRatePerSec < 0 {
		return errors.New("telegram.send_rate_per_sec must be >= 0")
	}
	if _, _, err := cfg.Telegram.OpsChatID(); err != nil {
		return err
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return errors.New("logging.file.path is required when file logging is enabled")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver)
	}
	if _, err := Field("storage.busy_timeout").Duration(cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if _, err := cfg.Reminders.Resolve(); err != nil {
		return err
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.JWTSecret) == "" {
		return fmt.Errorf("api.jwt_secret is required when the api is enabled (or set %s)", EnvAPISecret)
	}
	if _, err := Field("api.read_timeout").Duration(cfg.API.ReadTimeout); err != nil {
		return err
	}
	if _, err := Field("api.write_timeout").Duration(cfg.API.WriteTimeout); err != nil {
		return err
	}

	if _, err := Field("maintenance.audit_retention").Duration(cfg.Maintenance.AuditRetention); err != nil {
		return err
	}
	if _, err := Field("maintenance.timezone").Location(cfg.Maintenance.Timezone); err != nil {
		return err
	}
	return nil
}
