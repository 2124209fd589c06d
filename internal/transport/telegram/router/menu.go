package router

import (
	"sort"
	"strings"

	kit "remindbot/internal/transport"
)

// sanitizeTelegramCommand maps s onto Telegram's command charset
// [a-z0-9_]{1,32}. It returns "" when nothing usable is left.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	underscore := true // suppress leading '_'
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a route for the menu, so "remind list"
// becomes "remind_list".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top-level commands first, then shortcuts
// for multi-token routes. Hidden commands are left out.
func buildTelegramMenuCommands(root *cmdNode, leaves []Command) []kit.BotCommand {
	type entry struct {
		cmd, desc string
		prio      int
	}
	seen := map[string]bool{}
	var entries []entry
	add := func(cmd, desc string, lock bool, prio int) {
		cmd = sanitizeTelegramCommand(cmd)
		if cmd == "" || seen[cmd] {
			return
		}
		seen[cmd] = true
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if lock {
			desc = "🔒 " + desc
		}
		entries = append(entries, entry{cmd: cmd, desc: desc, prio: prio})
	}

	for _, name := range root.childNames() {
		n := root.children[name]
		if n.hidden() {
			continue
		}
		add(name, summarizeNodeDesc(n), nodeIsOwnerOnly(n), 0)
	}
	for _, c := range leaves {
		route := splitRoute(c.Route)
		if len(route) < 2 || c.Hidden {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = strings.Join(route, " ")
		}
		add(strings.Join(route, "_"), desc, c.Access == AccessOwnerOnly, 1)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})
	out := make([]kit.BotCommand, 0, min(len(entries), 100))
	for _, e := range entries[:min(len(entries), 100)] {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
