// Package prefix lets chat administrators pick a custom command prefix.
package prefix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"remindbot/internal/plugin"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const maxPrefixLen = 5

var errBadPrefix = fmt.Errorf("prefix must be 1 to %d characters without spaces", maxPrefixLen)

type Plugin struct {
	plugin.PluginBase
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "prefix" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return errors.New("prefix: store is required")
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "prefix",
			Description: "show the command prefix of this chat",
			Usage:       "/prefix",
			Access:      router.AccessEveryone,
			Handle:      p.handleShow,
		},
		{
			Route:       "prefix set",
			Description: "set a custom command prefix (admins)",
			Usage:       "/prefix set <prefix>",
			Access:      router.AccessEveryone,
			Handle:      p.handleSet,
		},
		{
			Route:       "prefix reset",
			Aliases:     []string{"clear"},
			Description: "restore the default prefix (admins)",
			Usage:       "/prefix reset",
			Access:      router.AccessEveryone,
			Handle:      p.handleReset,
		},
	}
}

func (p *Plugin) handleShow(ctx context.Context, req *router.Request) error {
	custom, ok, err := p.Deps.Store.Prefix(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if !ok {
		return req.Reply(ctx, "This chat uses the default prefix "+router.DefaultPrefix+".", nil)
	}
	return req.Reply(ctx, fmt.Sprintf("Commands in this chat work with %s or %s.", router.DefaultPrefix, custom), nil)
}

func (p *Plugin) handleSet(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: "+req.Prefix+"prefix set <prefix>", nil)
	}
	value := req.Args[0]
	if err := validPrefix(value); err != nil {
		return req.Reply(ctx, "Invalid prefix: "+err.Error()+".", nil)
	}
	if !p.mayConfigure(ctx, req) {
		return req.Reply(ctx, "Only chat administrators can change the prefix.", nil)
	}
	if value == router.DefaultPrefix {
		return p.reset(ctx, req)
	}
	if err := p.Deps.Store.SetPrefix(ctx, req.Chat.ChatID, value); err != nil {
		return err
	}
	p.invalidate(req.Chat.ChatID)
	p.Log.Info("chat prefix changed",
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("user_id", req.FromID),
		logx.String("prefix", value),
	)
	return req.Reply(ctx, fmt.Sprintf("Prefix set. Try %shelp.", value), nil)
}

func (p *Plugin) handleReset(ctx context.Context, req *router.Request) error {
	if !p.mayConfigure(ctx, req) {
		return req.Reply(ctx, "Only chat administrators can change the prefix.", nil)
	}
	return p.reset(ctx, req)
}

func (p *Plugin) reset(ctx context.Context, req *router.Request) error {
	if err := p.Deps.Store.DeletePrefix(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	p.invalidate(req.Chat.ChatID)
	return req.Reply(ctx, "Prefix reset to "+router.DefaultPrefix+".", nil)
}

func (p *Plugin) invalidate(chatID int64) {
	if p.Deps.Prefixes != nil {
		p.Deps.Prefixes.InvalidatePrefix(chatID)
	}
}

// mayConfigure is true for bot owners and in private chats. In groups it
// needs a creator or administrator.
func (p *Plugin) mayConfigure(ctx context.Context, req *router.Request) bool {
	if req.IsOwner() {
		return true
	}
	if req.Message != nil && !req.Message.IsGroup {
		return true
	}
	if p.Deps.Directory == nil {
		return false
	}
	role, err := p.Deps.Directory.MemberRole(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		p.Log.Warn("member role lookup failed", logx.Int64("chat_id", req.Chat.ChatID), logx.Err(err))
		return false
	}
	return role.Privileged()
}

func validPrefix(s string) error {
	n := utf8.RuneCountInString(s)
	if n == 0 || n > maxPrefixLen {
		return errBadPrefix
	}
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return errBadPrefix
	}
	return nil
}
