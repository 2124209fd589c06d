package reminders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"remindbot/internal/reminder"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// listBodyLimit truncates long bodies in /remind list.
const listBodyLimit = 200

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "remind",
			Aliases:     []string{"reminder", "remindme"},
			Description: "create a reminder",
			Usage:       "/remind <time> [message]  e.g. /remind 2 days 16 hr call Nelly, /remind 2025-01-01 08:00 new year",
			Access:      router.AccessEveryone,
			Handle:      p.handleCreate,
		},
		{
			Route:       "remind list",
			Description: "your upcoming reminders in this chat",
			Usage:       "/remind list [page]",
			Access:      router.AccessEveryone,
			Handle:      p.handleList,
		},
		{
			Route:       "remind cancel",
			Aliases:     []string{"delete"},
			Description: "cancel reminders by id",
			Usage:       "/remind cancel <id...>",
			Access:      router.AccessEveryone,
			Handle:      p.handleCancel,
		},
		{
			Route:       "reminders",
			Description: "your upcoming reminders in this chat",
			Usage:       "/reminders [page]",
			Access:      router.AccessEveryone,
			Hidden:      true,
			Handle:      p.handleList,
		},
	}
}

func (p *Plugin) handleCreate(ctx context.Context, req *router.Request) error {
	if req.Message == nil {
		return nil
	}
	settings := p.reminderSettings()
	loc := settings.Location
	if loc == nil {
		loc = time.UTC
	}
	maxBody := settings.MaxBody
	if maxBody <= 0 {
		maxBody = 1500
	}

	now := p.now()
	w, err := parseWhen(req.Tail, now, loc)
	if err != nil {
		msg := "I could not understand that time. Try a duration like 2h30m or a date like 2025-01-31 18:00."
		switch {
		case errors.Is(err, errNoTime):
			msg = "Usage: " + req.Prefix + "remind <time> [message]"
		case errors.Is(err, errTooLarge):
			msg = "That is too far in the future."
		}
		return req.Reply(ctx, msg, nil)
	}
	if !w.At.After(now) {
		return req.Reply(ctx, "That time is in the past.", nil)
	}
	if n := utf8.RuneCountInString(w.Rest); n > maxBody {
		return req.Reply(ctx, fmt.Sprintf("Reminder message is too long (%d characters, at most %d).", n, maxBody), nil)
	}

	origin := req.Message.SentAt
	if origin.IsZero() {
		origin = now
	}
	r, err := p.Deps.Reminders.Create(ctx, reminder.Reminder{
		OwnerID:         req.FromID,
		OwnerName:       ownerName(req),
		ChatID:          req.Chat.ChatID,
		ThreadID:        req.Chat.ThreadID,
		OriginMessageID: req.Message.ID,
		OriginAt:        origin,
		DueAt:           w.At,
		Body:            w.Rest,
	})
	if err != nil {
		return err
	}

	response := "in " + humanDelta(now, w.At)
	if w.Absolute {
		response = "at " + w.At.In(loc).Format("2006-01-02 15:04")
	}
	about := ""
	if w.Rest != "" {
		about = "about " + w.Rest + " "
	}
	return req.Reply(ctx, fmt.Sprintf("I will remind you %s%s. #%d", about, response, r.ID), nil)
}

func (p *Plugin) handleList(ctx context.Context, req *router.Request) error {
	page := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return req.Reply(ctx, "Usage: "+req.Prefix+"remind list [page]", nil)
		}
		page = n
	}

	items, err := p.Deps.Reminders.List(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return req.Reply(ctx, "You have no upcoming reminders!", nil)
	}
	return req.Reply(ctx, formatList(items, page, p.getConfig().PageSize, req.Prefix, p.now()), nil)
}

func formatList(items []reminder.Reminder, page, size int, prefix string, now time.Time) string {
	pg := tgui.Paginate(items, page, size)

	var b strings.Builder
	if pg.Pages > 1 {
		fmt.Fprintf(&b, "Your upcoming reminders (page %d/%d):\n", pg.Number, pg.Pages)
	} else {
		b.WriteString("Your upcoming reminders:\n")
	}
	for _, r := range pg.Items {
		fmt.Fprintf(&b, "\n#%d in %s:\n%s\n", r.ID, humanDelta(now, r.DueAt), tgui.TruncRunes(r.Body, listBodyLimit))
	}
	fmt.Fprintf(&b, "\nCancel reminders using %sremind cancel <id...>", prefix)
	if pg.HasNext() {
		fmt.Fprintf(&b, "\nNext page: %sremind list %d", prefix, pg.Number+1)
	}
	return b.String()
}

func (p *Plugin) handleCancel(ctx context.Context, req *router.Request) error {
	ids, ok := parseIDs(req.Args)
	if !ok {
		return req.Reply(ctx, "Usage: "+req.Prefix+"remind cancel <id...>", nil)
	}
	n, err := p.Deps.Reminders.Cancel(ctx, req.Chat.ChatID, req.FromID, ids)
	if err != nil {
		return err
	}
	if n == 0 {
		return req.Reply(ctx, "Unable to delete reminder, it may already be deleted or not belong to you.", nil)
	}
	p.Log.Debug("reminders cancelled", logx.Int64("owner_id", req.FromID), logx.Int("count", n))
	noun := "reminders"
	if n == 1 {
		noun = "reminder"
	}
	return req.Reply(ctx, fmt.Sprintf("Successfully deleted %d %s.", n, noun), nil)
}

// parseIDs accepts "12", "#12" and comma-separated lists. Duplicates are
// dropped.
func parseIDs(args []string) ([]int64, bool) {
	var out []int64
	seen := map[int64]struct{}{}
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimPrefix(strings.TrimSpace(part), "#")
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, false
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, len(out) > 0
}

func ownerName(req *router.Request) string {
	if req.Message == nil {
		return ""
	}
	if name := strings.TrimSpace(req.Message.FromName); name != "" {
		return name
	}
	if req.Message.FromUsername != "" {
		return "@" + req.Message.FromUsername
	}
	return ""
}

// humanDelta renders to-from as "2 hours", "3 days" and so on.
func humanDelta(from, to time.Time) string {
	return strings.TrimSpace(humanize.RelTime(from, to, "", ""))
}
