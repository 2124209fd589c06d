package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML. path selects a command; empty
// lists all top-level commands.
func (m *CommandManager) helpText(path []string, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m.mu.RLock()
	root := m.root
	shortcuts := m.shortcuts
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTopHTML(root, prefix)
	}

	cur := root
	full := make([]string, 0, len(path))
	for i, p := range path {
		p = strings.ToLower(p)
		n, ok := cur.child(p)
		if !ok && i == 0 {
			n, ok = shortcuts[p]
		}
		if !ok {
			return "Unknown command. Type <code>" + html.EscapeString(prefix) + "help</code> for a list."
		}
		cur = n
		full = append(full, n.name)
	}
	if cur.cmd != nil {
		full = splitRoute(cur.cmd.Route)
	}
	return helpNodeHTML(cur, full, prefix)
}

func helpTopHTML(root *cmdNode, prefix string) string {
	type row struct {
		name, desc string
		lock       bool
	}
	var rows []row
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n == nil || n.hidden() {
			continue
		}
		rows = append(rows, row{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// owner-only last, alphabetical within groups
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	p := html.EscapeString(prefix)
	lines := []string{
		"<b>Commands</b>",
		"Type <code>" + p + "help &lt;command&gt;</code> for details.",
		"",
	}
	for _, r := range rows {
		line := "• "
		if r.lock {
			line += "🔒 "
		}
		line += "<code>" + p + html.EscapeString(r.name) + "</code>"
		if r.desc != "" {
			line += " - " + html.EscapeString(r.desc)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNodeHTML(cur *cmdNode, full []string, prefix string) string {
	p := html.EscapeString(prefix)
	lines := []string{"<b>Help</b> <code>" + p + html.EscapeString(strings.Join(full, " ")) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>bot owners only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+p+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "<b>Aliases</b>", html.EscapeString(strings.Join(c.Aliases, ", ")))
		}
	}

	var subs []string
	for _, name := range cur.childNames() {
		n, _ := cur.child(name)
		if n == nil || n.hidden() {
			continue
		}
		line := "• <code>" + p + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
		if d := summarizeNodeDesc(n); d != "" {
			line += " - " + html.EscapeString(d)
		}
		subs = append(subs, line)
	}
	if len(subs) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		lines = append(lines, subs...)
	}
	return strings.Join(lines, "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	shown := kids[:min(3, len(kids))]
	s := strings.Join(shown, ", ")
	if len(kids) > len(shown) {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsOwnerOnly is true for owner-only leaves and for groups where every
// command below is owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n.cmd != nil && n.cmd.Access == AccessEveryone {
		return false
	}
	if n.cmd == nil && len(n.children) == 0 {
		return false
	}
	for _, name := range n.childNames() {
		if !nodeIsOwnerOnly(n.children[name]) {
			return false
		}
	}
	return true
}
