package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

// wordJoiner after '@' stops Telegram from turning "@name" into a mention.
const wordJoiner = "\u2060"

// telegramDelivery resolves and delivers reminders through the bot adapter.
type telegramDelivery struct {
	adapter kit.Adapter
	dir     kit.Directory
}

var (
	_ reminder.Resolver = (*telegramDelivery)(nil)
	_ reminder.Sender   = (*telegramDelivery)(nil)
)

func (d *telegramDelivery) Resolve(ctx context.Context, r reminder.Reminder) (reminder.Destination, error) {
	dest := reminder.Destination{
		ChatID:   r.ChatID,
		ThreadID: r.ThreadID,
		Policy:   reminder.MentionPolicy{Users: true, RepliedUser: true},
	}
	if d.dir == nil {
		return dest, nil
	}
	chat, err := d.dir.Chat(ctx, r.ChatID)
	if err != nil {
		return reminder.Destination{}, resolveError(err)
	}
	if chat.Type == "private" {
		return dest, nil
	}
	ok, err := d.dir.BotCanPost(ctx, chat)
	switch {
	case err == nil && !ok:
		return reminder.Destination{}, fmt.Errorf("%w: bot cannot post in chat %d", reminder.ErrNoPermission, r.ChatID)
	case errors.Is(err, kit.ErrChatNotFound), errors.Is(err, kit.ErrChatUnavailable), errors.Is(err, kit.ErrForbidden):
		return reminder.Destination{}, resolveError(err)
	}
	role, err := d.dir.MemberRole(ctx, r.ChatID, r.OwnerID)
	switch {
	case err == nil:
		dest.Policy.Everyone = role.Privileged()
	case errors.Is(err, kit.ErrChatNotFound), errors.Is(err, kit.ErrChatUnavailable):
		return reminder.Destination{}, resolveError(err)
	}
	// Any other lookup failure just means no broadcast mentions.
	return dest, nil
}

func resolveError(err error) error {
	switch {
	case errors.Is(err, kit.ErrChatNotFound):
		return fmt.Errorf("%w: %w", reminder.ErrHostGone, err)
	case errors.Is(err, kit.ErrChatUnavailable):
		return fmt.Errorf("%w: %w", reminder.ErrHostUnavailable, err)
	case errors.Is(err, kit.ErrThreadNotFound):
		return fmt.Errorf("%w: %w", reminder.ErrDestinationGone, err)
	case errors.Is(err, kit.ErrForbidden):
		return fmt.Errorf("%w: %w", reminder.ErrNoPermission, err)
	default:
		return err
	}
}

func (d *telegramDelivery) Send(ctx context.Context, dl reminder.Delivery) error {
	text := formatNotice(dl.Notice, dl.To.Policy)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if dl.To.Policy.RepliedUser {
		opt.ReplyTo = dl.ReplyTo
	}
	_, err := d.adapter.SendText(ctx, kit.ChatTarget{ChatID: dl.To.ChatID, ThreadID: dl.To.ThreadID}, text, opt)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, kit.ErrReplyNotFound):
		return &reminder.DeliveryError{Reason: reminder.ReasonContentUnusable, Err: err}
	case errors.Is(err, kit.ErrChatNotFound), errors.Is(err, kit.ErrThreadNotFound), errors.Is(err, kit.ErrForbidden):
		return &reminder.DeliveryError{Reason: reminder.ReasonPermanent, Err: err}
	default:
		return &reminder.DeliveryError{Reason: reminder.ReasonTransient, Err: err}
	}
}

// formatNotice renders the HTML notification text.
func formatNotice(n reminder.Notice, policy reminder.MentionPolicy) string {
	name := strings.TrimSpace(n.OwnerName)
	if name == "" {
		name = "there"
	}
	mention := tgui.Esc(name)
	if policy.Users && n.OwnerID != 0 {
		mention = tgui.Mention(name, n.OwnerID)
	}
	body := tgui.Esc(n.Body).String()
	if !policy.Everyone {
		body = neutralizeMentions(body)
	}
	var b strings.Builder
	b.WriteString("Hey ")
	b.WriteString(mention.String())
	b.WriteString(" ! You asked to be reminded about ")
	b.WriteString(body)
	if n.Elapsed != "" {
		b.WriteString(" ")
		b.WriteString(tgui.Esc(n.Elapsed).String())
	}
	b.WriteString(".")
	return b.String()
}

func neutralizeMentions(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	rs := []rune(s)
	for i, r := range rs {
		b.WriteRune(r)
		if r == '@' && i+1 < len(rs) && isMentionRune(rs[i+1]) {
			b.WriteString(wordJoiner)
		}
	}
	return b.String()
}

func isMentionRune(r rune) bool {
	return r == '_' || r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}
