package config

import (
	"os"
	"strings"
)

// Environment overrides for secrets. main loads .env (godotenv) before the
// first Load, so values from there apply too.
const (
	EnvTelegramToken = "REMINDBOT_TELEGRAM_TOKEN"
	EnvOpsChat       = "REMINDBOT_OPS_CHAT"
	EnvAPISecret     = "REMINDBOT_API_JWT_SECRET"
)

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvOpsChat)); v != "" {
		cfg.Telegram.OpsChat = v
	}
	if v := strings.TrimSpace(getenv(EnvAPISecret)); v != "" {
		cfg.API.JWTSecret = v
	}
}
