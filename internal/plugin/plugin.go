package plugin

import (
	"context"
	"encoding/json"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

// ConfigurablePlugin receives its "plugins.<name>.config" blob before Start
// and again whenever it changes.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// Prefixes is the router side of per-chat prefix changes.
type Prefixes interface {
	PrefixFor(ctx context.Context, chatID int64) string
	InvalidatePrefix(chatID int64)
}

type Deps struct {
	Logger    logx.Logger
	Adapter   kit.Adapter
	Directory kit.Directory
	Config    *config.ConfigManager
	Bus       eventbus.Bus
	Store     *storage.Store
	Reminders *reminder.Service
	Prefixes  Prefixes
}
